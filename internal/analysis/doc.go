// Package analysis selects representative excerpts from rendered audio and
// computes fixed-schema feature vectors from them.
//
// Window selection is a pure function of the PCM and policy so repeated runs
// land on identical excerpts. Extraction has two strategies: the spectral
// path (FFT-based centroid, rolloff, energy) and a time-domain heuristic
// fallback whose vectors are explicitly tagged degraded. Both downsample
// first; chiptune bandwidth makes full-rate analysis pure waste.
package analysis
