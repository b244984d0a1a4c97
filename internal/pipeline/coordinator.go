package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chipscore/internal/config"
	"chipscore/internal/extractpool"
	"chipscore/internal/jobstore"
	"chipscore/internal/logging"
	"chipscore/internal/manifest"
	"chipscore/internal/output"
	"chipscore/internal/predict"
	"chipscore/internal/render"
	"chipscore/internal/services"
	"chipscore/internal/sources"
)

// Deps bundles the subsystems the coordinator drives.
type Deps struct {
	Store     *jobstore.Store
	Manifest  *manifest.Manifest
	Renderer  *render.Orchestrator
	Pool      *extractpool.Pool
	Predictor predict.Predictor
	Overlay   *predict.ManualOverlay
}

type laneState struct {
	id        int
	phase     string
	key       string
	updatedAt time.Time
	stale     bool
	failures  int
	logger    *slog.Logger
}

// Failure records one failed job for the run summary.
type Failure struct {
	Key     string
	Phase   string
	Message string
}

// Coordinator runs one classification pass over the collection.
type Coordinator struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps

	heartbeat  time.Duration
	stallAfter time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	phase     string
	lanes     []*laneState
	counters  Counters
	failures  []Failure
	fatalErr  error
	observers []chan ProgressSnapshot

	cancel context.CancelFunc
	writer *output.Writer
}

// New constructs a coordinator. Deps must be fully populated.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		deps:       deps,
		phase:      PhaseIdle,
		heartbeat:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		stallAfter: time.Duration(cfg.Workflow.StallTimeout) * time.Second,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Subscribe registers a snapshot observer. Sends never block; a full
// channel drops the snapshot.
func (c *Coordinator) Subscribe() <-chan ProgressSnapshot {
	ch := make(chan ProgressSnapshot, 64)
	c.mu.Lock()
	c.observers = append(c.observers, ch)
	c.mu.Unlock()
	return ch
}

// Pause stops lanes from taking new jobs. In-flight jobs finish.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	if c.phase == PhaseRunning {
		c.phase = PhasePaused
	}
	c.mu.Unlock()
	c.publish()
}

// Resume lifts a pause.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	if c.phase == PhasePaused {
		c.phase = PhaseRunning
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.publish()
}

// Cancel aborts the run. In-flight jobs stop at their next cancellation
// point; no partial records are written.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.paused = false
	c.cond.Broadcast()
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Counters returns the current progress counters.
func (c *Coordinator) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// Failures returns the failed jobs recorded so far.
func (c *Coordinator) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}

// Run executes the full pass and blocks until every job resolved or the
// run aborted. It is a one-shot: a coordinator is not reused.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.closeObservers()

	tracks, err := sources.Scan(c.cfg.Paths.LibraryDir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "scanning", "scan collection", "", err)
	}
	if len(tracks) == 0 {
		c.logger.Info("collection holds no playable sources",
			logging.String("library_dir", c.cfg.Paths.LibraryDir))
		c.setPhase(PhaseDone)
		return nil
	}

	keys := make([]string, len(tracks))
	for i, track := range tracks {
		keys[i] = track.Key()
		if err := c.deps.Store.Upsert(ctx, keys[i], track.Path, track.SubIndex); err != nil {
			return services.Wrap(services.ErrPersistence, "scanning", "register job", "", err)
		}
	}

	writer, err := output.NewWriter(c.cfg.RecordsPath(), c.cfg.AuditPath(), keys, c.cfg.Output.RetryAttempts, c.logger)
	if err != nil {
		return err
	}
	c.writer = writer

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	laneCount := c.cfg.Workflow.Lanes
	if laneCount < 1 {
		laneCount = 1
	}
	if laneCount > len(tracks) {
		laneCount = len(tracks)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.phase = PhaseRunning
	c.counters = Counters{Total: len(tracks)}
	c.lanes = make([]*laneState, laneCount)
	for i := range c.lanes {
		c.lanes[i] = &laneState{
			id:        i,
			phase:     PhaseIdle,
			updatedAt: time.Now(),
			logger:    c.logger.With(logging.Int(logging.FieldLane, i)),
		}
	}
	c.mu.Unlock()
	c.publish()

	c.logger.Info("run started",
		logging.Int("jobs", len(tracks)),
		logging.Int("lanes", laneCount),
	)

	jobs := make(chan sources.Track, len(tracks))
	for _, track := range tracks {
		jobs <- track
	}
	close(jobs)

	var wg sync.WaitGroup
	monitorCtx, stopMonitor := context.WithCancel(runCtx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.monitor(monitorCtx)
	}()

	var laneWG sync.WaitGroup
	for _, lane := range c.lanes {
		laneWG.Add(1)
		go func(lane *laneState) {
			defer laneWG.Done()
			c.runLane(runCtx, lane, jobs)
		}(lane)
	}
	laneWG.Wait()
	stopMonitor()
	wg.Wait()

	if err := writer.Close(); err != nil {
		c.recordFatal(err)
	}
	if err := c.deps.Manifest.Save(); err != nil {
		c.recordFatal(services.Wrap(services.ErrPersistence, "persisting", "save manifest", "", err))
	}

	c.mu.Lock()
	fatal := c.fatalErr
	c.mu.Unlock()

	switch {
	case fatal != nil:
		c.setPhase(PhaseFailed)
		return fatal
	case runCtx.Err() != nil:
		c.setPhase(PhaseFailed)
		return services.Wrap(services.ErrTimeout, "running", "run", "run cancelled", context.Cause(runCtx))
	default:
		c.setPhase(PhaseDone)
		counters := c.Counters()
		c.logger.Info("run finished",
			logging.Int("tagged", counters.Tagged),
			logging.Int("skipped", counters.Skipped),
			logging.Int("failed", counters.Failed),
		)
		return nil
	}
}

func (c *Coordinator) runLane(ctx context.Context, lane *laneState, jobs <-chan sources.Track) {
	for {
		if !c.waitWhilePaused(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case track, ok := <-jobs:
			if !ok {
				c.setLanePhase(lane, PhaseIdle, "")
				return
			}
			err := c.processJob(ctx, lane, track)
			if err != nil && !errors.Is(err, context.Canceled) &&
				!services.IsJobFatal(err) && !services.IsPipelineFatal(err) {
				// Transient causes get one more attempt before the job is
				// declared failed.
				lane.logger.Warn("job failed with a transient cause, retrying",
					logging.String(logging.FieldJobKey, track.Key()),
					logging.Error(err),
				)
				err = c.processJob(ctx, lane, track)
			}
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			default:
				c.handleJobFailure(ctx, lane, track, err)
			}
			c.setLanePhase(lane, PhaseIdle, "")
		}
	}
}

// waitWhilePaused blocks while the run is paused. It returns false when the
// run was cancelled instead of resumed.
func (c *Coordinator) waitWhilePaused(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && ctx.Err() == nil {
		c.cond.Wait()
	}
	return ctx.Err() == nil
}

func (c *Coordinator) handleJobFailure(ctx context.Context, lane *laneState, track sources.Track, err error) {
	key := track.Key()
	phase := lane.currentPhase()
	lane.logger.Error("job failed",
		logging.String(logging.FieldJobKey, key),
		logging.String(logging.FieldPhase, phase),
		logging.Error(err),
	)

	if storeErr := c.deps.Store.MarkFailed(ctx, key, err.Error()); storeErr != nil {
		c.recordFatal(services.Wrap(services.ErrPersistence, phase, "record failure", "", storeErr))
		return
	}
	if resolveErr := c.writer.Resolve(key); resolveErr != nil {
		c.recordFatal(resolveErr)
		return
	}

	c.mu.Lock()
	c.counters.Failed++
	lane.failures++
	c.failures = append(c.failures, Failure{Key: key, Phase: phase, Message: err.Error()})
	c.mu.Unlock()
	c.publish()

	if services.IsPipelineFatal(err) {
		c.recordFatal(err)
	}
}

// recordFatal stores the first pipeline-fatal error and cancels the run.
// Lanes parked in waitWhilePaused must be woken too; cancelling the context
// alone leaves them asleep on the cond.
func (c *Coordinator) recordFatal(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	cancel := c.cancel
	c.paused = false
	c.cond.Broadcast()
	c.mu.Unlock()
	c.logger.Error("pipeline-fatal failure, aborting run", logging.Error(err))
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) setPhase(phase string) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) setLanePhase(lane *laneState, phase, key string) {
	c.mu.Lock()
	lane.phase = phase
	lane.key = key
	lane.updatedAt = time.Now()
	lane.stale = false
	c.mu.Unlock()
	c.publish()
}

func (lane *laneState) currentPhase() string {
	return lane.phase
}

// touch refreshes a lane heartbeat without changing its phase.
func (c *Coordinator) touch(lane *laneState) {
	c.mu.Lock()
	lane.updatedAt = time.Now()
	lane.stale = false
	c.mu.Unlock()
	c.publish()
}

// withHeartbeat runs fn while a side goroutine refreshes the lane's
// heartbeat, so a long render or extraction does not read as a stall.
func (c *Coordinator) withHeartbeat(ctx context.Context, lane *laneState, fn func(context.Context) error) error {
	interval := c.heartbeat
	if interval <= 0 {
		return fn(ctx)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				c.touch(lane)
			}
		}
	}()

	err := fn(ctx)
	hbCancel()
	hbWG.Wait()
	return err
}

// closeObservers ends every snapshot stream once the run is over.
func (c *Coordinator) closeObservers() {
	c.mu.Lock()
	observers := c.observers
	c.observers = nil
	c.mu.Unlock()
	for _, ch := range observers {
		close(ch)
	}
}

// publish recomputes the snapshot and fans it out without blocking.
func (c *Coordinator) publish() {
	c.mu.Lock()
	snapshot := ProgressSnapshot{
		Phase:           c.phase,
		Counters:        c.counters,
		PercentComplete: c.counters.percentComplete(),
		Lanes:           make([]LaneStatus, len(c.lanes)),
		UpdatedAt:       time.Now(),
	}
	for i, lane := range c.lanes {
		snapshot.Lanes[i] = LaneStatus{
			Lane:       lane.id,
			Phase:      lane.phase,
			CurrentKey: lane.key,
			UpdatedAt:  lane.updatedAt,
			Stale:      lane.stale,
			Failures:   lane.failures,
		}
	}
	observers := append([]chan ProgressSnapshot(nil), c.observers...)
	c.mu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// monitor watches lane heartbeats for stalls. It ticks on its own cadence so
// stall detection works even with lane heartbeats switched off.
func (c *Coordinator) monitor(ctx context.Context) {
	stallAfter := c.stallAfter
	if stallAfter <= 0 {
		return
	}
	tick := stallAfter / 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	warned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		c.mu.Lock()
		busy := 0
		flagged := false
		var freshest time.Time
		for _, lane := range c.lanes {
			if lane.phase == PhaseIdle {
				continue
			}
			busy++
			if staleness := now.Sub(lane.updatedAt); staleness > stallAfter && !lane.stale {
				lane.stale = true
				flagged = true
				lane.logger.Warn("lane heartbeat stale",
					logging.String(logging.FieldJobKey, lane.key),
					logging.String(logging.FieldPhase, lane.phase),
					logging.Duration("staleness", staleness),
				)
			}
			if lane.updatedAt.After(freshest) {
				freshest = lane.updatedAt
			}
		}
		stalled := busy > 0 && now.Sub(freshest) > stallAfter
		c.mu.Unlock()
		if flagged {
			c.publish()
		}

		if !stalled {
			warned = false
			continue
		}
		if c.cfg.Workflow.StallAbort {
			c.recordFatal(services.Wrap(services.ErrTimeout, "running", "stall watchdog",
				fmt.Sprintf("no lane heartbeat for over %s", stallAfter), nil))
			return
		}
		if !warned {
			c.logger.Warn("pipeline stalled, continuing without abort",
				logging.Duration("stall_timeout", stallAfter))
			warned = true
		}
	}
}
