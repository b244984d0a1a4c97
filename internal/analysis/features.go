package analysis

// SchemaVersion identifies the feature vector layout. Records carrying a
// different version must be re-extracted or explicitly marked degraded.
const SchemaVersion = "2"

// Variant records which extraction path produced a vector.
type Variant string

const (
	// VariantPrimary is the full spectral path.
	VariantPrimary Variant = "primary-dsp"
	// VariantHeuristic is the RMS/ZCR-only fallback, lower confidence.
	VariantHeuristic Variant = "heuristic-fallback"
	// VariantCached marks a vector reused from a prior run.
	VariantCached Variant = "cached"
)

// Feature names. The set is fixed per SchemaVersion.
const (
	FeatureEnergy          = "energy"
	FeatureRMS             = "rms"
	FeatureCentroid        = "spectral_centroid"
	FeatureRolloff         = "spectral_rolloff"
	FeatureZCR             = "zero_crossing_rate"
	FeatureTempoEstimate   = "tempo_estimate"
	FeatureTempoConfidence = "tempo_confidence"
	FeatureDurationSec     = "duration_sec"
	FeatureSampleCount     = "sample_count"
	FeatureAnalysisRate    = "analysis_rate"
)

// FeatureVector is the fixed-schema numeric description of one analysis
// window.
type FeatureVector struct {
	SchemaVersion string             `json:"schema_version"`
	Variant       Variant            `json:"variant"`
	Values        map[string]float64 `json:"values"`
}

// Degraded reports whether the vector came from a fallback path.
func (fv FeatureVector) Degraded() bool {
	return fv.Variant == VariantHeuristic
}

// SourceMeta carries provenance into extraction.
type SourceMeta struct {
	Key    string `json:"key"`
	Engine string `json:"engine"`
}

// Extractor computes a feature vector from windowed mono PCM.
type Extractor interface {
	Extract(samples []float64, sampleRate int, meta SourceMeta) (FeatureVector, error)
}
