package extractpool

import (
	"chipscore/internal/analysis"
	"chipscore/internal/services"
)

// Extractor pairs the primary spectral path with the degraded heuristic
// fallback. One instance serves a worker for its whole life, so the FFT plan
// inside the spectral extractor is built once and reused for every job.
// Instances are not safe for concurrent use.
type Extractor struct {
	primary  *analysis.SpectralExtractor
	fallback *analysis.HeuristicExtractor
}

// NewExtractor builds the extractor pair for one worker.
func NewExtractor(analysisRate int) *Extractor {
	return &Extractor{
		primary:  analysis.NewSpectralExtractor(analysisRate),
		fallback: analysis.NewHeuristicExtractor(analysisRate),
	}
}

// Extract runs the primary spectral extractor and falls back to the degraded
// heuristic extractor when the primary path fails. Only when both paths fail
// does the job itself fail.
func (e *Extractor) Extract(samples []float64, sampleRate int, meta analysis.SourceMeta) (analysis.FeatureVector, error) {
	fv, primaryErr := e.primary.Extract(samples, sampleRate, meta)
	if primaryErr == nil {
		return fv, nil
	}
	fallback, err := e.fallback.Extract(samples, sampleRate, meta)
	if err != nil {
		return analysis.FeatureVector{}, services.Wrap(services.ErrExtraction, "extracting", "feature extraction",
			"primary and fallback extractors failed: "+primaryErr.Error(), err)
	}
	return fallback, nil
}
