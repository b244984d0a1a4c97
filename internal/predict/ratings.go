package predict

import (
	"fmt"

	"chipscore/internal/analysis"
)

// Rating bounds. Every dimension is an integer score on the same scale.
const (
	MinRating = 1
	MaxRating = 5
)

// Ratings is one classification: energy, mood, and complexity scores.
type Ratings struct {
	Energy     int `json:"energy"`
	Mood       int `json:"mood"`
	Complexity int `json:"complexity"`
}

// Valid reports whether every dimension is inside the rating scale.
func (r Ratings) Valid() bool {
	for _, v := range [...]int{r.Energy, r.Mood, r.Complexity} {
		if v < MinRating || v > MaxRating {
			return false
		}
	}
	return true
}

func (r Ratings) String() string {
	return fmt.Sprintf("e%d/m%d/c%d", r.Energy, r.Mood, r.Complexity)
}

// Prediction is a rating plus its provenance.
type Prediction struct {
	Ratings    Ratings `json:"ratings"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// Predictor turns one feature vector into ratings. The job key participates
// so equal vectors from different tunes can still break ties
// deterministically.
type Predictor interface {
	Predict(key string, fv analysis.FeatureVector) (Prediction, error)
}

// clampRating rounds a continuous score into the rating scale.
func clampRating(v float64) int {
	r := int(v + 0.5)
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return r
}
