package extractpool

import (
	"context"

	"chipscore/internal/analysis"
)

// Job is one extraction request: a windowed slice of rendered PCM plus the
// identity the feature vector will be filed under.
type Job struct {
	Key        string
	Engine     string
	Samples    []float64
	SampleRate int
}

// Runner executes one job at a time inside some isolation domain.
type Runner interface {
	Run(ctx context.Context, job Job) (analysis.FeatureVector, error)
	// Healthy reports whether the runner can take another job. A runner
	// that returns false is closed and replaced by the pool.
	Healthy() bool
	Close() error
}

// RunnerFactory builds a fresh runner, both at pool start and when a worker
// is replaced after a crash.
type RunnerFactory func() (Runner, error)

// inProcessRunner extracts in the calling process. It trades isolation for
// zero spawn cost; single-process deployments and most tests use it. The
// extractor lives as long as the runner, keeping its FFT plan warm across
// jobs.
type inProcessRunner struct {
	extractor *Extractor
}

// InProcessFactory returns a factory for in-process runners.
func InProcessFactory(analysisRate int) RunnerFactory {
	return func() (Runner, error) {
		return &inProcessRunner{extractor: NewExtractor(analysisRate)}, nil
	}
}

func (r *inProcessRunner) Run(ctx context.Context, job Job) (analysis.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return analysis.FeatureVector{}, err
	}
	return r.extractor.Extract(job.Samples, job.SampleRate, analysis.SourceMeta{Key: job.Key, Engine: job.Engine})
}

func (r *inProcessRunner) Healthy() bool { return true }
func (r *inProcessRunner) Close() error  { return nil }
