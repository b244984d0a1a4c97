// Package pipeline coordinates a classification run end to end: scanning
// the collection, rendering or reusing cached audio, extracting features
// through the worker pool, predicting ratings, and persisting records in
// deterministic order.
//
// Jobs flow through N identical lanes. A failing job never takes its lane
// down; only persistence and configuration failures abort the run. Each
// lane reports heartbeats while a long step runs, and a monitor flags (and
// optionally aborts on) global stalls.
package pipeline
