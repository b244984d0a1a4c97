package extractpool

import "chipscore/internal/analysis"

// workerRequest is one line on a worker's stdin. Audio travels out of band
// as a WAV file so request lines stay small.
type workerRequest struct {
	ID           int64  `json:"id"`
	WavPath      string `json:"wav_path"`
	Key          string `json:"key"`
	Engine       string `json:"engine"`
	AnalysisRate int    `json:"analysis_rate"`
}

// workerResponse is one line on a worker's stdout, matched to its request
// by ID.
type workerResponse struct {
	ID       int64                   `json:"id"`
	Features *analysis.FeatureVector `json:"features,omitempty"`
	Error    string                  `json:"error,omitempty"`
}
