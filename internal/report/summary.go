// Package report renders end-of-run summaries for the CLI.
package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chipscore/internal/config"
	"chipscore/internal/pipeline"
)

// maxFailureLines caps the failure listing so a disastrous run does not
// scroll the totals off screen.
const maxFailureLines = 10

// Summary captures everything the run command prints after a pipeline run.
type Summary struct {
	Duration     time.Duration
	Counters     pipeline.Counters
	Failures     []pipeline.Failure
	RecordsPath  string
	RecordsBytes int64
	AuditPath    string
}

// Build assembles a summary from the finished coordinator and the output
// files on disk. Missing files count as zero bytes.
func Build(cfg *config.Config, counters pipeline.Counters, failures []pipeline.Failure, duration time.Duration) *Summary {
	s := &Summary{
		Duration:    duration,
		Counters:    counters,
		Failures:    failures,
		RecordsPath: cfg.RecordsPath(),
		AuditPath:   cfg.AuditPath(),
	}
	if info, err := os.Stat(s.RecordsPath); err == nil {
		s.RecordsBytes = info.Size()
	}
	return s
}

// Render formats the summary as plain text for the terminal.
func (s *Summary) Render() string {
	var b strings.Builder
	c := s.Counters

	fmt.Fprintf(&b, "Classified %s of %s tracks in %s\n",
		humanize.Comma(int64(c.Tagged)),
		humanize.Comma(int64(c.Total)),
		s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "  rendered: %d  cache hits: %d  skipped: %d\n",
		c.Rendered, c.CacheHits, c.Skipped)
	if c.Degraded > 0 {
		fmt.Fprintf(&b, "  degraded extractions: %d\n", c.Degraded)
	}
	fmt.Fprintf(&b, "  records: %s (%s)\n", s.RecordsPath, humanize.Bytes(uint64(s.RecordsBytes)))

	if c.Failed == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "\n%d job(s) failed:\n", c.Failed)
	for i, f := range s.Failures {
		if i == maxFailureLines {
			fmt.Fprintf(&b, "  ... and %d more (see log)\n", len(s.Failures)-maxFailureLines)
			break
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", f.Key, f.Phase, f.Message)
	}
	return b.String()
}
