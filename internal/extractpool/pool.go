package extractpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chipscore/internal/analysis"
	"chipscore/internal/logging"
	"chipscore/internal/services"
)

// ErrPoolDestroyed rejects jobs submitted to, or still queued in, a pool
// that has been shut down.
var ErrPoolDestroyed = errors.New("extraction pool destroyed")

type taskResult struct {
	features analysis.FeatureVector
	err      error
}

type task struct {
	job  Job
	done chan taskResult
}

// Pool is a fixed-size extraction worker pool with a FIFO queue. Each worker
// owns one runner and handles one job at a time; a crashed runner fails only
// its in-flight job and is replaced before the worker takes the next one.
type Pool struct {
	factory    RunnerFactory
	jobTimeout time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*task
	destroyed bool

	wg sync.WaitGroup
}

// New starts a pool of size workers. Every runner is created up front so a
// misconfigured worker command fails the run immediately instead of on the
// first job.
func New(size int, jobTimeout time.Duration, factory RunnerFactory, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		factory:    factory,
		jobTimeout: jobTimeout,
		logger:     logging.NewComponentLogger(logger, "extractpool"),
	}
	p.cond = sync.NewCond(&p.mu)

	runners := make([]Runner, 0, size)
	for i := 0; i < size; i++ {
		runner, err := factory()
		if err != nil {
			for _, r := range runners {
				_ = r.Close()
			}
			return nil, services.Wrap(services.ErrExtraction, "extracting", "start worker pool", "", err)
		}
		runners = append(runners, runner)
	}
	for i, runner := range runners {
		p.wg.Add(1)
		go p.worker(i, runner)
	}
	return p, nil
}

// Extract queues one job and blocks until its result arrives, the context
// ends, or the pool is destroyed.
func (p *Pool) Extract(ctx context.Context, job Job) (analysis.FeatureVector, error) {
	t := &task{job: job, done: make(chan taskResult, 1)}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return analysis.FeatureVector{}, ErrPoolDestroyed
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	p.mu.Unlock()

	select {
	case res := <-t.done:
		return res.features, res.err
	case <-ctx.Done():
		return analysis.FeatureVector{}, services.Wrap(services.ErrTimeout, "extracting", "await extraction",
			"caller gave up on queued job", ctx.Err())
	}
}

// Shutdown destroys the pool: queued jobs are rejected, in-flight jobs run
// to completion (or their timeout), and all workers terminate before
// Shutdown returns.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.destroyed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id int, runner Runner) {
	defer p.wg.Done()
	defer func() {
		if runner != nil {
			_ = runner.Close()
		}
	}()

	for {
		t, rejected := p.next()
		if t == nil {
			return
		}
		if rejected {
			t.done <- taskResult{err: ErrPoolDestroyed}
			continue
		}
		if runner == nil {
			var err error
			runner, err = p.replaceRunner(id)
			if err != nil {
				t.done <- taskResult{err: err}
				continue
			}
		}

		ctx := context.Background()
		cancel := context.CancelFunc(func() {})
		if p.jobTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		}
		features, err := runner.Run(ctx, t.job)
		cancel()
		t.done <- taskResult{features: features, err: err}

		if !runner.Healthy() {
			p.logger.Warn("extraction worker lost, replacing",
				logging.Int("worker", id),
				logging.String(logging.FieldJobKey, t.job.Key),
			)
			_ = runner.Close()
			runner = nil
		}
	}
}

// next pops the queue head. It returns (nil, false) when the pool is done,
// and rejected=true when the task was queued behind a shutdown.
func (p *Pool) next() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.destroyed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, p.destroyed
}

func (p *Pool) replaceRunner(id int) (Runner, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		runner, err := p.factory()
		if err == nil {
			return runner, nil
		}
		lastErr = err
		p.logger.Error("worker replacement failed",
			logging.Int("worker", id),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return nil, services.Wrap(services.ErrExtraction, "extracting", "replace worker", "", lastErr)
}
