// Package executor keeps optimized traces and invalidates them when an
// object they depend on changes.
//
// Each installed trace is optimized once; identical traces share an executor
// through an LRU cache keyed by a CRC32C of the trace. Invalidation checks
// every live executor's dependency Bloom filter, so it may invalidate more
// executors than strictly necessary but never fewer. An exact object to
// executor index, kept in roaring bitmaps, answers Dependents queries and
// counts Bloom false positives.
package executor
