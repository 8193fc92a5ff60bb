// Package conv converts untrusted integers (flag values, file header
// fields) to the fixed-width and address types used by the allocator and
// the trace file format, failing instead of wrapping.
package conv
