// Package output owns the append-only records file and its audit trail.
// Appends are serialized through one goroutine and committed in job-key
// order regardless of lane completion order, so two runs over the same
// library produce byte-comparable output.
package output
