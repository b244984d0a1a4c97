package predict

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chipscore/internal/analysis"
	"chipscore/internal/services"
)

func vector(values map[string]float64) analysis.FeatureVector {
	return analysis.FeatureVector{
		SchemaVersion: analysis.SchemaVersion,
		Variant:       analysis.VariantPrimary,
		Values:        values,
	}
}

func TestHeuristicBoundsAndDeterminism(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]float64
	}{
		{"silence", map[string]float64{}},
		{"quiet", map[string]float64{
			analysis.FeatureRMS: 0.02, analysis.FeatureZCR: 0.01,
			analysis.FeatureCentroid: 300, analysis.FeatureRolloff: 500,
			analysis.FeatureTempoEstimate: 70,
		}},
		{"loud", map[string]float64{
			analysis.FeatureRMS: 0.4, analysis.FeatureZCR: 0.5,
			analysis.FeatureCentroid: 5000, analysis.FeatureRolloff: 9000,
			analysis.FeatureTempoEstimate: 190,
		}},
	}

	p := NewHeuristicPredictor()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, err := p.Predict("games/"+tc.name, vector(tc.values))
			if err != nil {
				t.Fatalf("predict: %v", err)
			}
			if !first.Ratings.Valid() {
				t.Fatalf("ratings out of bounds: %s", first.Ratings)
			}
			second, _ := p.Predict("games/"+tc.name, vector(tc.values))
			if first != second {
				t.Fatalf("prediction not deterministic: %+v vs %+v", first, second)
			}
		})
	}
}

func TestHeuristicTracksIntensity(t *testing.T) {
	p := NewHeuristicPredictor()
	quiet, _ := p.Predict("k", vector(map[string]float64{analysis.FeatureRMS: 0.01}))
	loud, _ := p.Predict("k", vector(map[string]float64{analysis.FeatureRMS: 0.4}))
	if loud.Ratings.Energy <= quiet.Ratings.Energy {
		t.Fatalf("energy(loud)=%d not above energy(quiet)=%d", loud.Ratings.Energy, quiet.Ratings.Energy)
	}
}

func TestHeuristicDegradedConfidence(t *testing.T) {
	p := NewHeuristicPredictor()
	fv := vector(map[string]float64{analysis.FeatureRMS: 0.2})
	fv.Variant = analysis.VariantHeuristic
	pred, _ := p.Predict("k", fv)
	if pred.Confidence >= 0.5 {
		t.Fatalf("degraded confidence = %v, want below primary", pred.Confidence)
	}
}

func writeModel(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testModel = `{
  "version": "linear-2024.1",
  "schema_version": "2",
  "confidence": 0.9,
  "dimensions": {
    "energy": {"bias": 1, "weights": {"rms": 10}},
    "mood": {"bias": 3, "weights": {}},
    "complexity": {"bias": 0, "weights": {"zero_crossing_rate": 12}}
  }
}`

func TestModelPredictor(t *testing.T) {
	p, err := LoadModel(writeModel(t, testModel))
	if err != nil {
		t.Fatalf("load model: %v", err)
	}

	pred, err := p.Predict("k", vector(map[string]float64{
		analysis.FeatureRMS: 0.3,
		analysis.FeatureZCR: 0.25,
	}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	// energy = 1 + 10*0.3 = 4, mood = 3, complexity = 12*0.25 = 3.
	want := Ratings{Energy: 4, Mood: 3, Complexity: 3}
	if pred.Ratings != want {
		t.Fatalf("ratings = %s, want %s", pred.Ratings, want)
	}
	if pred.Model != "linear-2024.1" || pred.Confidence != 0.9 {
		t.Fatalf("provenance = %q/%v", pred.Model, pred.Confidence)
	}
}

func TestModelSchemaMismatch(t *testing.T) {
	p, err := LoadModel(writeModel(t, testModel))
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	fv := vector(nil)
	fv.SchemaVersion = "1"
	if _, err := p.Predict("k", fv); !errors.Is(err, services.ErrPrediction) {
		t.Fatalf("err = %v, want ErrPrediction on schema mismatch", err)
	}
}

func TestModelValidation(t *testing.T) {
	if _, err := LoadModel(writeModel(t, `{"version":"x","dimensions":{"energy":{}}}`)); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration for missing dimensions", err)
	}
	if _, err := LoadModel(writeModel(t, `not json`)); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration for bad JSON", err)
	}
}

func TestNewFromModelPath(t *testing.T) {
	p, err := NewFromModelPath("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if _, ok := p.(*HeuristicPredictor); !ok {
		t.Fatalf("predictor = %T, want heuristic fallback", p)
	}

	p, err = NewFromModelPath(writeModel(t, testModel))
	if err != nil {
		t.Fatalf("model path: %v", err)
	}
	if _, ok := p.(*ModelPredictor); !ok {
		t.Fatalf("predictor = %T, want model", p)
	}
}

func TestManualOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.json")
	body := `{
  "games/last_ninja.sid:2": {"energy": 5, "mood": 2},
  "demos/ode.sid": {"complexity": 4}
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	overlay, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	if overlay.Len() != 2 {
		t.Fatalf("len = %d, want 2", overlay.Len())
	}

	base := Prediction{Ratings: Ratings{Energy: 3, Mood: 3, Complexity: 3}, Confidence: 0.5, Model: "heuristic-v1"}

	merged, applied := overlay.Apply("games/last_ninja.sid:2", base)
	if !applied {
		t.Fatal("overlay not applied")
	}
	want := Ratings{Energy: 5, Mood: 2, Complexity: 3}
	if merged.Ratings != want {
		t.Fatalf("merged = %s, want %s", merged.Ratings, want)
	}
	if merged.Confidence != 1 || merged.Model != "heuristic-v1+manual" {
		t.Fatalf("provenance = %q/%v", merged.Model, merged.Confidence)
	}

	unchanged, applied := overlay.Apply("games/other.sid", base)
	if applied || unchanged != base {
		t.Fatalf("unexpected override for unlisted key: %+v", unchanged)
	}
}

func TestManualOverlayValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.json")
	if err := os.WriteFile(path, []byte(`{"k": {"energy": 9}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOverlay(path); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	overlay, err := LoadOverlay(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || overlay.Len() != 0 {
		t.Fatalf("missing file: %v, len %d", err, overlay.Len())
	}
}
