package report

import (
	"strings"
	"testing"
	"time"

	"chipscore/internal/pipeline"
	"chipscore/internal/testsupport"
)

func TestSummaryRenderClean(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := Build(cfg, pipeline.Counters{Total: 12, Tagged: 10, Skipped: 2, Rendered: 9, CacheHits: 1}, nil, 90*time.Second)

	out := s.Render()
	if !strings.Contains(out, "Classified 10 of 12 tracks in 1m30s") {
		t.Fatalf("missing headline: %q", out)
	}
	if !strings.Contains(out, "rendered: 9  cache hits: 1  skipped: 2") {
		t.Fatalf("missing counters line: %q", out)
	}
	if strings.Contains(out, "failed") {
		t.Fatalf("clean run mentions failures: %q", out)
	}
}

func TestSummaryRenderFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	failures := make([]pipeline.Failure, 0, 13)
	for i := 0; i < 13; i++ {
		failures = append(failures, pipeline.Failure{
			Key:     "tunes/broken.sid",
			Phase:   "rendering",
			Message: "engine refused source",
		})
	}
	s := Build(cfg, pipeline.Counters{Total: 20, Tagged: 7, Failed: 13}, failures, time.Minute)

	out := s.Render()
	if !strings.Contains(out, "13 job(s) failed") {
		t.Fatalf("missing failure count: %q", out)
	}
	if !strings.Contains(out, "tunes/broken.sid [rendering]: engine refused source") {
		t.Fatalf("missing failure detail: %q", out)
	}
	if !strings.Contains(out, "and 3 more") {
		t.Fatalf("missing truncation note: %q", out)
	}
}

func TestSummaryDegradedLine(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	s := Build(cfg, pipeline.Counters{Total: 3, Tagged: 3, Degraded: 2}, nil, time.Second)
	if !strings.Contains(s.Render(), "degraded extractions: 2") {
		t.Fatal("degraded line absent when Degraded > 0")
	}

	s = Build(cfg, pipeline.Counters{Total: 3, Tagged: 3}, nil, time.Second)
	if strings.Contains(s.Render(), "degraded") {
		t.Fatal("degraded line present when Degraded == 0")
	}
}
