// Package services carries the error taxonomy and context annotations shared
// by every pipeline phase.
//
// Errors are classified with sentinel markers (ErrRender, ErrExtraction, ...)
// wrapped via Wrap so the coordinator can decide between failing one job and
// aborting the run without parsing message strings. Context helpers attach
// job key, lane, and phase so loggers can reconstruct what was happening
// wherever an error surfaces.
package services
