package output

import (
	"time"

	"chipscore/internal/predict"
)

// ClassificationRecord is one line of the records file: the full judgment
// for one job key. Records never change once written; reruns append new
// lines rather than editing old ones.
type ClassificationRecord struct {
	Key           string             `json:"key"`
	Source        string             `json:"source"`
	SubIndex      int                `json:"sub_index,omitempty"`
	Engine        string             `json:"engine"`
	Variant       string             `json:"variant"`
	SchemaVersion string             `json:"schema_version"`
	Ratings       predict.Ratings    `json:"ratings"`
	Confidence    float64            `json:"confidence"`
	Model         string             `json:"model"`
	Features      map[string]float64 `json:"features"`
	ContentHash   string             `json:"content_hash"`
	GeneratedAt   string             `json:"generated_at"`
}

func (r *ClassificationRecord) stamp() {
	if r.GeneratedAt == "" {
		r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
}
