// Package uop defines the micro-op trace model consumed by the optimizer:
// opcodes and their stack effects, instructions, the inline object table and
// a line-oriented text format.
//
// A trace is a linear sequence of instructions recorded from one hot path.
// Instructions whose operand names an object (constants, functions, dicts,
// modules) store an index into Trace.Objects rather than a pointer, so a trace
// can be copied, serialized and compared by value.
package uop
