// Package extractpool runs feature extraction in a fixed-size pool of
// isolated worker processes.
//
// Each worker is a re-exec of the current binary speaking a JSON-line
// protocol over stdin/stdout; PCM travels by temp WAV path rather than
// inline. A worker that crashes or overruns the job timeout takes down only
// its in-flight job. The pool replaces it and keeps serving the FIFO queue.
// Tests and single-process deployments can swap the subprocess runner for an
// in-process one without touching pool semantics.
package extractpool
