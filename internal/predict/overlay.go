package predict

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"chipscore/internal/services"
)

// manualEntry is one human-authored rating. Dimensions left at zero keep
// the predicted value; set dimensions always win.
type manualEntry struct {
	Energy     int `json:"energy,omitempty"`
	Mood       int `json:"mood,omitempty"`
	Complexity int `json:"complexity,omitempty"`
}

// ManualOverlay holds human-authored ratings keyed by job key. Humans
// outrank models: any dimension present in the overlay replaces the
// predicted one.
type ManualOverlay struct {
	entries map[string]manualEntry
}

// LoadOverlay reads the manual ratings file, tolerating a missing file.
func LoadOverlay(path string) (*ManualOverlay, error) {
	o := &ManualOverlay{entries: make(map[string]manualEntry)}
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return o, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "predicting", "load manual ratings", "", err)
	}
	if err := json.Unmarshal(data, &o.entries); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "predicting", "parse manual ratings", "", err)
	}
	for key, entry := range o.entries {
		for _, v := range [...]int{entry.Energy, entry.Mood, entry.Complexity} {
			if v != 0 && (v < MinRating || v > MaxRating) {
				return nil, services.Wrap(services.ErrValidation, "predicting", "validate manual ratings",
					"manual rating out of range for "+key, nil)
			}
		}
	}
	return o, nil
}

// Len returns the number of manual entries.
func (o *ManualOverlay) Len() int { return len(o.entries) }

// Apply merges manual dimensions over a prediction. The returned bool
// reports whether anything was overridden.
func (o *ManualOverlay) Apply(key string, p Prediction) (Prediction, bool) {
	entry, ok := o.entries[key]
	if !ok {
		return p, false
	}
	applied := false
	if entry.Energy != 0 {
		p.Ratings.Energy = entry.Energy
		applied = true
	}
	if entry.Mood != 0 {
		p.Ratings.Mood = entry.Mood
		applied = true
	}
	if entry.Complexity != 0 {
		p.Ratings.Complexity = entry.Complexity
		applied = true
	}
	if applied {
		p.Confidence = 1
		p.Model = p.Model + "+manual"
	}
	return p, applied
}
