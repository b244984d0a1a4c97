package pipeline_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chipscore/internal/analysis"
	"chipscore/internal/config"
	"chipscore/internal/extractpool"
	"chipscore/internal/jobstore"
	"chipscore/internal/logging"
	"chipscore/internal/output"
	"chipscore/internal/pipeline"
	"chipscore/internal/predict"
	"chipscore/internal/render"
	"chipscore/internal/services"
	"chipscore/internal/testsupport"
)

// toneEngine renders a sine wave at the frequency named in the source file.
// Bodies "fail" and "slow" simulate a broken and a hung render.
type toneEngine struct{}

func (toneEngine) Name() string                       { return "tone" }
func (toneEngine) Available(ctx context.Context) bool { return true }

func (toneEngine) Render(ctx context.Context, req render.Request) (*render.RenderedAudio, error) {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "read source", "", err)
	}
	body := strings.TrimSpace(string(data))
	switch body {
	case "fail":
		return nil, services.Wrap(services.ErrRender, "rendering", "tone engine", "engine refused source", nil)
	case "slow":
		<-ctx.Done()
		return nil, services.Wrap(services.ErrTimeout, "rendering", "tone engine", "render cancelled", ctx.Err())
	}
	freq, err := strconv.Atoi(body)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "tone engine", "unparsable source body", err)
	}

	samples := make([]float64, req.MaxSeconds*req.SampleRate)
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*float64(freq)*float64(i)/float64(req.SampleRate))
	}
	return &render.RenderedAudio{
		Samples:    samples,
		SampleRate: req.SampleRate,
		Channels:   1,
		Duration:   time.Duration(req.MaxSeconds) * time.Second,
		Engine:     "tone",
		RenderMode: render.ModeEmulated,
	}, nil
}

// gateEngine holds each render until the test releases it. A source whose
// body is "fatal" then fails with a persistence-class error; anything else
// renders like toneEngine.
type gateEngine struct {
	started      chan string
	releaseOK    chan struct{}
	releaseFatal chan struct{}
}

func (e *gateEngine) Name() string                       { return "gate" }
func (e *gateEngine) Available(ctx context.Context) bool { return true }

func (e *gateEngine) Render(ctx context.Context, req render.Request) (*render.RenderedAudio, error) {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "read source", "", err)
	}
	body := strings.TrimSpace(string(data))
	e.started <- body
	if body == "fatal" {
		select {
		case <-e.releaseFatal:
		case <-ctx.Done():
		}
		return nil, services.Wrap(services.ErrPersistence, "rendering", "gate engine", "records store unreachable", nil)
	}
	select {
	case <-e.releaseOK:
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrTimeout, "rendering", "gate engine", "render cancelled", ctx.Err())
	}
	return toneEngine{}.Render(ctx, req)
}

func newCoordinator(t *testing.T, cfg *config.Config) (*pipeline.Coordinator, *jobstore.Store) {
	t.Helper()
	return newCoordinatorWithEngine(t, cfg, toneEngine{})
}

func newCoordinatorWithEngine(t *testing.T, cfg *config.Config, engine render.Engine) (*pipeline.Coordinator, *jobstore.Store) {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)
	m := testsupport.MustLoadManifest(t, cfg)
	orch := render.NewOrchestrator(cfg, []render.Engine{engine}, m, logging.NewNop())
	pool, err := extractpool.New(2, 10*time.Second, extractpool.InProcessFactory(cfg.Analysis.AnalysisRate), logging.NewNop())
	if err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(pool.Shutdown)
	overlay, err := predict.LoadOverlay(cfg.Predict.ManualRatingsPath)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}

	coordinator := pipeline.New(cfg, pipeline.Deps{
		Store:     store,
		Manifest:  m,
		Renderer:  orch,
		Pool:      pool,
		Predictor: predict.NewHeuristicPredictor(),
		Overlay:   overlay,
	}, logging.NewNop())
	return coordinator, store
}

func readRecords(t *testing.T, cfg *config.Config) []output.ClassificationRecord {
	t.Helper()
	f, err := os.Open(cfg.RecordsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open records: %v", err)
	}
	defer f.Close()

	var records []output.ClassificationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var rec output.ClassificationRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("partial or corrupt record line: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(2))
	testsupport.WriteToneSource(t, cfg, "low.sid", 220)
	testsupport.WriteToneSource(t, cfg, "mid.sid", 440)
	testsupport.WriteToneSource(t, cfg, "high.sid", 880)

	coordinator, store := newCoordinator(t, cfg)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	records := readRecords(t, cfg)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	byKey := make(map[string]output.ClassificationRecord, len(records))
	for i, rec := range records {
		if _, dup := byKey[rec.Key]; dup {
			t.Fatalf("duplicate record for %s", rec.Key)
		}
		byKey[rec.Key] = rec
		if !rec.Ratings.Valid() {
			t.Fatalf("ratings out of bounds for %s: %+v", rec.Key, rec.Ratings)
		}
		if rec.Variant != string(analysis.VariantPrimary) {
			t.Fatalf("variant for %s = %q", rec.Key, rec.Variant)
		}
		if rec.ContentHash == "" || rec.Engine != "tone" {
			t.Fatalf("record provenance incomplete: %+v", rec)
		}
		if i > 0 && records[i-1].Key >= rec.Key {
			t.Fatalf("records not in key order: %s then %s", records[i-1].Key, rec.Key)
		}
	}

	zcr := func(key string) float64 { return byKey[key].Features[analysis.FeatureZCR] }
	if !(zcr("low.sid") < zcr("mid.sid") && zcr("mid.sid") < zcr("high.sid")) {
		t.Fatalf("zcr not monotonic with frequency: %v %v %v",
			zcr("low.sid"), zcr("mid.sid"), zcr("high.sid"))
	}

	counters := coordinator.Counters()
	if counters.Tagged != 3 || counters.Rendered != 3 || counters.Failed != 0 {
		t.Fatalf("counters = %+v", counters)
	}

	job, err := store.Get(context.Background(), "mid.sid")
	if err != nil {
		t.Fatalf("job store: %v", err)
	}
	if job.Status != jobstore.StatusDone || job.SchemaVersion != analysis.SchemaVersion {
		t.Fatalf("job state = %+v", job)
	}
}

func TestRunIncrementalSkip(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(1))
	testsupport.WriteToneSource(t, cfg, "a.sid", 330)
	testsupport.WriteToneSource(t, cfg, "b.sid", 660)

	first, _ := newCoordinator(t, cfg)
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := len(readRecords(t, cfg)); got != 2 {
		t.Fatalf("first run wrote %d records, want 2", got)
	}

	second, _ := newCoordinator(t, cfg)
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	counters := second.Counters()
	if counters.Skipped != 2 || counters.Rendered != 0 || counters.Tagged != 0 {
		t.Fatalf("second run counters = %+v", counters)
	}
	// Unchanged sources append nothing.
	if got := len(readRecords(t, cfg)); got != 2 {
		t.Fatalf("second run grew records file to %d lines", got)
	}
}

func TestRunJobFailureIsolation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(2))
	testsupport.WriteToneSource(t, cfg, "good1.sid", 220)
	testsupport.WriteSource(t, cfg, "broken.sid", "fail")
	testsupport.WriteToneSource(t, cfg, "good2.sid", 440)

	coordinator, store := newCoordinator(t, cfg)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	records := readRecords(t, cfg)
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "good1.sid" || keys[1] != "good2.sid" {
		t.Fatalf("records = %v, want the two good tunes", keys)
	}

	job, err := store.Get(context.Background(), "broken.sid")
	if err != nil {
		t.Fatalf("job store: %v", err)
	}
	if job.Status != jobstore.StatusFailed || !strings.Contains(job.Error, "engine refused source") {
		t.Fatalf("failed job state = %+v", job)
	}

	failures := coordinator.Failures()
	if len(failures) != 1 || failures[0].Key != "broken.sid" {
		t.Fatalf("failures = %+v", failures)
	}
}

func TestRunCancelLeavesNoPartialRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(2))
	testsupport.WriteSource(t, cfg, "slow1.sid", "slow")
	testsupport.WriteSource(t, cfg, "slow2.sid", "slow")
	testsupport.WriteSource(t, cfg, "slow3.sid", "slow")

	coordinator, _ := newCoordinator(t, cfg)
	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(context.Background()) }()

	time.Sleep(200 * time.Millisecond)
	coordinator.Cancel()

	if err := <-runErr; err == nil {
		t.Fatal("cancelled run returned nil")
	}
	// Every line present must be a whole record; here none should exist.
	if records := readRecords(t, cfg); len(records) != 0 {
		t.Fatalf("cancelled run left %d records", len(records))
	}
}

func TestPauseHoldsNextJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(1))
	testsupport.WriteToneSource(t, cfg, "a.sid", 220)
	testsupport.WriteToneSource(t, cfg, "b.sid", 440)

	coordinator, _ := newCoordinator(t, cfg)
	coordinator.Pause()

	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(context.Background()) }()

	time.Sleep(200 * time.Millisecond)
	if got := coordinator.Counters().Processed; got != 0 {
		t.Fatalf("paused run processed %d jobs", got)
	}
	coordinator.Resume()

	if err := <-runErr; err != nil {
		t.Fatalf("run after resume: %v", err)
	}
	if got := coordinator.Counters().Tagged; got != 2 {
		t.Fatalf("tagged = %d, want 2", got)
	}
}

// flakyEngine fails its first render with a transient cause, then behaves
// like toneEngine.
type flakyEngine struct {
	calls atomic.Int32
}

func (e *flakyEngine) Name() string                       { return "flaky" }
func (e *flakyEngine) Available(ctx context.Context) bool { return true }

func (e *flakyEngine) Render(ctx context.Context, req render.Request) (*render.RenderedAudio, error) {
	if e.calls.Add(1) == 1 {
		return nil, services.Wrap(services.ErrTransient, "rendering", "flaky engine", "engine hiccup", nil)
	}
	return toneEngine{}.Render(ctx, req)
}

func TestTransientFailureRetriesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(1))
	testsupport.WriteToneSource(t, cfg, "a.sid", 440)

	engine := &flakyEngine{}
	coordinator, _ := newCoordinatorWithEngine(t, cfg, engine)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := coordinator.Counters()
	if counters.Tagged != 1 || counters.Failed != 0 {
		t.Fatalf("counters = %+v, want the job tagged on retry", counters)
	}
	if got := engine.calls.Load(); got != 2 {
		t.Fatalf("engine rendered %d times, want 2", got)
	}
}

// countingEngine counts renders on its way through to toneEngine.
type countingEngine struct {
	calls atomic.Int32
}

func (e *countingEngine) Name() string                       { return "counting" }
func (e *countingEngine) Available(ctx context.Context) bool { return true }

func (e *countingEngine) Render(ctx context.Context, req render.Request) (*render.RenderedAudio, error) {
	e.calls.Add(1)
	return toneEngine{}.Render(ctx, req)
}

func TestRenderFailureDoesNotRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(1))
	testsupport.WriteSource(t, cfg, "broken.sid", "fail")

	engine := &countingEngine{}
	coordinator, _ := newCoordinatorWithEngine(t, cfg, engine)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := coordinator.Counters().Failed; got != 1 {
		t.Fatalf("failed = %d, want 1", got)
	}
	if got := engine.calls.Load(); got != 1 {
		t.Fatalf("engine rendered %d times, want no retry", got)
	}
}

func TestFatalFailureWhilePausedUnblocksRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(2))
	testsupport.WriteToneSource(t, cfg, "fine.sid", 220)
	testsupport.WriteSource(t, cfg, "doomed.sid", "fatal")

	engine := &gateEngine{
		started:      make(chan string, 2),
		releaseOK:    make(chan struct{}),
		releaseFatal: make(chan struct{}),
	}
	coordinator, _ := newCoordinatorWithEngine(t, cfg, engine)

	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(context.Background()) }()

	// Both lanes in flight before the pause lands.
	<-engine.started
	<-engine.started
	coordinator.Pause()

	// The good lane finishes its in-flight job and parks on the pause.
	close(engine.releaseOK)
	deadline := time.Now().Add(5 * time.Second)
	for coordinator.Counters().Tagged < 1 {
		if time.Now().After(deadline) {
			t.Fatal("good job never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	// The other lane now fails with a persistence-class error. The run must
	// abort and return even though a lane is parked on the pause.
	close(engine.releaseFatal)
	select {
	case err := <-runErr:
		if !errors.Is(err, services.ErrPersistence) {
			t.Fatalf("run returned %v, want persistence failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after a fatal failure during pause")
	}
}

func TestObserverReceivesProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLanes(1))
	testsupport.WriteToneSource(t, cfg, "a.sid", 220)

	coordinator, _ := newCoordinator(t, cfg)
	snapshots := coordinator.Subscribe()

	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var last pipeline.ProgressSnapshot
	seen := 0
	for snap := range snapshots {
		last = snap
		seen++
	}
	if seen == 0 {
		t.Fatal("no snapshots observed")
	}
	if last.Phase != pipeline.PhaseDone || last.PercentComplete != 100 {
		t.Fatalf("final snapshot = %+v", last)
	}
	if last.Counters.Tagged != 1 {
		t.Fatalf("final counters = %+v", last.Counters)
	}
}
