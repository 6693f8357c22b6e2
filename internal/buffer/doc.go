// Package buffer provides Stream, a bounded FIFO of timestamped records
// with count and time-window retrieval.
//
// A Stream is written by a single producer and read by any number of
// goroutines. Reads always return copies, so callers may keep results
// after further pushes evict the underlying records.
package buffer
