package analysis

import "fmt"

// HeuristicExtractor is the fallback used when the spectral path is
// unavailable or fails. It only computes time-domain features and estimates
// the spectral ones from zero-crossing density, so every vector it produces
// is tagged degraded.
type HeuristicExtractor struct {
	analysisRate int
}

// NewHeuristicExtractor returns the fallback extractor.
func NewHeuristicExtractor(analysisRate int) *HeuristicExtractor {
	return &HeuristicExtractor{analysisRate: analysisRate}
}

// Extract implements Extractor.
func (e *HeuristicExtractor) Extract(samples []float64, sampleRate int, meta SourceMeta) (FeatureVector, error) {
	if len(samples) == 0 {
		return FeatureVector{}, fmt.Errorf("empty analysis window for %s", meta.Key)
	}

	pcm, rate := Downsample(samples, sampleRate, e.analysisRate)
	rms := rootMeanSquare(pcm)
	zcr := zeroCrossingRate(pcm)
	tempo, _ := tempoFromZCR(zcr)

	// Crude spectral stand-ins: a pure tone of frequency f crosses zero 2f
	// times per second, so zcr*rate/2 approximates the dominant frequency.
	approxDominant := zcr * float64(rate) / 2

	return FeatureVector{
		SchemaVersion: SchemaVersion,
		Variant:       VariantHeuristic,
		Values: map[string]float64{
			FeatureEnergy:          rms * rms,
			FeatureRMS:             rms,
			FeatureCentroid:        approxDominant,
			FeatureRolloff:         approxDominant * 1.5,
			FeatureZCR:             zcr,
			FeatureTempoEstimate:   tempo,
			FeatureTempoConfidence: 0.1,
			FeatureDurationSec:     float64(len(samples)) / float64(sampleRate),
			FeatureSampleCount:     float64(len(samples)),
			FeatureAnalysisRate:    float64(rate),
		},
	}, nil
}
