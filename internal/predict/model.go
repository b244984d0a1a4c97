package predict

import (
	"encoding/json"
	"fmt"
	"os"

	"chipscore/internal/analysis"
	"chipscore/internal/services"
)

// modelArtifact is the on-disk shape of a trained linear model. Each
// dimension holds per-feature weights plus a bias; scores are clamped onto
// the rating scale.
type modelArtifact struct {
	Version       string                      `json:"version"`
	SchemaVersion string                      `json:"schema_version"`
	Confidence    float64                     `json:"confidence"`
	Dimensions    map[string]dimensionWeights `json:"dimensions"`
}

type dimensionWeights struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// ModelPredictor scores feature vectors with a trained linear model loaded
// from a JSON artifact.
type ModelPredictor struct {
	artifact modelArtifact
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*ModelPredictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "predicting", "load model", "", err)
	}
	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "predicting", "parse model",
			fmt.Sprintf("model artifact %s is not valid JSON", path), err)
	}
	for _, dim := range [...]string{"energy", "mood", "complexity"} {
		if _, ok := artifact.Dimensions[dim]; !ok {
			return nil, services.Wrap(services.ErrConfiguration, "predicting", "validate model",
				fmt.Sprintf("model artifact %s lacks dimension %q", path, dim), nil)
		}
	}
	if artifact.Confidence <= 0 {
		artifact.Confidence = 0.8
	}
	return &ModelPredictor{artifact: artifact}, nil
}

func (p *ModelPredictor) Predict(key string, fv analysis.FeatureVector) (Prediction, error) {
	if p.artifact.SchemaVersion != "" && p.artifact.SchemaVersion != fv.SchemaVersion {
		return Prediction{}, services.Wrap(services.ErrPrediction, "predicting", "schema check",
			fmt.Sprintf("model expects feature schema %s, vector carries %s", p.artifact.SchemaVersion, fv.SchemaVersion), nil)
	}

	confidence := p.artifact.Confidence
	if fv.Degraded() {
		confidence /= 2
	}
	return Prediction{
		Ratings: Ratings{
			Energy:     clampRating(p.score("energy", fv)),
			Mood:       clampRating(p.score("mood", fv)),
			Complexity: clampRating(p.score("complexity", fv)),
		},
		Confidence: confidence,
		Model:      p.artifact.Version,
	}, nil
}

func (p *ModelPredictor) score(dimension string, fv analysis.FeatureVector) float64 {
	dim := p.artifact.Dimensions[dimension]
	score := dim.Bias
	for feature, weight := range dim.Weights {
		score += weight * fv.Values[feature]
	}
	return score
}

// NewFromModelPath returns the model predictor when a path is configured
// and loadable, otherwise the heuristic predictor.
func NewFromModelPath(path string) (Predictor, error) {
	if path == "" {
		return NewHeuristicPredictor(), nil
	}
	return LoadModel(path)
}
