package pipeline

import "time"

// Run phases as exposed in snapshots.
const (
	PhaseIdle    = "idle"
	PhaseRunning = "running"
	PhasePaused  = "paused"
	PhaseDone    = "done"
	PhaseFailed  = "failed"
)

// LaneStatus is one lane's view at snapshot time.
type LaneStatus struct {
	Lane       int       `json:"lane"`
	Phase      string    `json:"phase"`
	CurrentKey string    `json:"current_key,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
	Failures   int       `json:"failures"`
}

// Counters aggregates run progress. All values only grow during a run.
type Counters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Rendered  int `json:"rendered"`
	CacheHits int `json:"cache_hits"`
	Skipped   int `json:"skipped"`
	Extracted int `json:"extracted"`
	Degraded  int `json:"degraded"`
	Tagged    int `json:"tagged"`
	Failed    int `json:"failed"`
}

// ProgressSnapshot is an immutable view of the run, recomputed on every
// state change. Observers receive these over a bounded channel; a slow
// observer misses intermediate snapshots, never blocks the run.
type ProgressSnapshot struct {
	Phase           string       `json:"phase"`
	Counters        Counters     `json:"counters"`
	PercentComplete float64      `json:"percent_complete"`
	Lanes           []LaneStatus `json:"lanes"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (c Counters) percentComplete() float64 {
	if c.Total == 0 {
		return 100
	}
	return float64(c.Processed+c.Failed) * 100 / float64(c.Total)
}
