package render

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"chipscore/internal/cacheindex"
	"chipscore/internal/config"
	"chipscore/internal/logging"
	"chipscore/internal/manifest"
	"chipscore/internal/services"
	"chipscore/internal/sources"
)

type fakeEngine struct {
	name      string
	available bool
	rendered  int
	fail      error
}

func (f *fakeEngine) Name() string                       { return f.name }
func (f *fakeEngine) Available(ctx context.Context) bool { return f.available }

func (f *fakeEngine) Render(ctx context.Context, req Request) (*RenderedAudio, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.rendered++
	samples := make([]float64, req.MaxSeconds*req.SampleRate)
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*440*float64(i)/float64(req.SampleRate))
	}
	return &RenderedAudio{
		Samples:    samples,
		SampleRate: req.SampleRate,
		Channels:   1,
		Engine:     f.name,
		RenderMode: ModeEmulated,
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.LibraryDir = filepath.Join(root, "library")
	cfg.Paths.CacheDir = filepath.Join(root, "cache")
	cfg.Paths.OutputDir = filepath.Join(root, "output")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Render.MaxSeconds = 1
	cfg.Render.SampleRate = 8000
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

func testTrack(t *testing.T, cfg *config.Config) sources.Track {
	t.Helper()
	dir := filepath.Join(cfg.Paths.LibraryDir, "composers", "rob")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "tune.sid")
	if err := os.WriteFile(path, []byte("PSID body"), 0o644); err != nil {
		t.Fatal(err)
	}
	return sources.Track{Path: path, RelKey: "composers/rob/tune.sid", SubIndex: 2}
}

func TestOrchestratorRenderTrack(t *testing.T) {
	cfg := testConfig(t)
	track := testTrack(t, cfg)
	m, err := manifest.Load(filepath.Join(cfg.Paths.StateDir, "manifest.json"))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	engine := &fakeEngine{name: "fake", available: true}
	orch := NewOrchestrator(cfg, []Engine{engine}, m, logging.NewNop())

	audio, artifactPath, err := orch.RenderTrack(context.Background(), track)
	if err != nil {
		t.Fatalf("render track: %v", err)
	}
	if engine.rendered != 1 {
		t.Fatalf("engine rendered %d times, want 1", engine.rendered)
	}
	if audio.Duration <= 0 {
		t.Fatalf("duration = %v", audio.Duration)
	}

	// The artifact mirrors the source tree and carries the sub-tune index.
	wantPath := filepath.Join(cfg.Paths.CacheDir, "composers", "rob", "tune.sid.2.wav")
	if artifactPath != wantPath {
		t.Fatalf("artifact path = %s, want %s", artifactPath, wantPath)
	}
	if _, err := os.Stat(artifactPath); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	// Cache identity sidecar was written; a second pass would not refresh.
	refresh, reason, err := cacheindex.NeedsRefresh(track.Path, artifactPath, orch.Params())
	if err != nil {
		t.Fatalf("needs refresh: %v", err)
	}
	if refresh {
		t.Fatalf("fresh artifact reported stale: %s", reason)
	}

	entry, ok := m.Get(track.RelKey, track.SubIndex, "wav", "fake", ModeEmulated)
	if !ok {
		t.Fatal("manifest has no entry for rendered artifact")
	}
	if entry.SampleRate != 8000 || entry.SizeBytes == 0 || entry.Checksum == "" {
		t.Fatalf("manifest entry incomplete: %+v", entry)
	}
}

func TestOrchestratorEnginePreferenceOrder(t *testing.T) {
	cfg := testConfig(t)
	track := testTrack(t, cfg)
	m, _ := manifest.Load(filepath.Join(cfg.Paths.StateDir, "manifest.json"))

	preferred := &fakeEngine{name: "preferred", available: false}
	fallback := &fakeEngine{name: "fallback", available: true}
	orch := NewOrchestrator(cfg, []Engine{preferred, fallback}, m, logging.NewNop())

	audio, _, err := orch.RenderTrack(context.Background(), track)
	if err != nil {
		t.Fatalf("render track: %v", err)
	}
	if audio.Engine != "fallback" {
		t.Fatalf("engine = %q, want fallback", audio.Engine)
	}
	if preferred.rendered != 0 {
		t.Fatal("unavailable engine was asked to render")
	}
}

func TestOrchestratorNoEngineAvailable(t *testing.T) {
	cfg := testConfig(t)
	track := testTrack(t, cfg)
	m, _ := manifest.Load(filepath.Join(cfg.Paths.StateDir, "manifest.json"))

	orch := NewOrchestrator(cfg, []Engine{&fakeEngine{name: "down", available: false}}, m, logging.NewNop())
	_, _, err := orch.RenderTrack(context.Background(), track)
	if !errors.Is(err, services.ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
}

func TestOrchestratorLoadCached(t *testing.T) {
	cfg := testConfig(t)
	track := testTrack(t, cfg)
	m, _ := manifest.Load(filepath.Join(cfg.Paths.StateDir, "manifest.json"))

	orch := NewOrchestrator(cfg, []Engine{&fakeEngine{name: "fake", available: true}}, m, logging.NewNop())
	rendered, _, err := orch.RenderTrack(context.Background(), track)
	if err != nil {
		t.Fatalf("render track: %v", err)
	}

	cached, _, err := orch.LoadCached(track)
	if err != nil {
		t.Fatalf("load cached: %v", err)
	}
	if len(cached.Samples) != len(rendered.Samples) {
		t.Fatalf("cached sample count %d != rendered %d", len(cached.Samples), len(rendered.Samples))
	}
	if cached.SampleRate != rendered.SampleRate {
		t.Fatalf("cached rate %d != rendered %d", cached.SampleRate, rendered.SampleRate)
	}
}

func TestEnginesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Render.Engines = []string{"hardware", "external", "softsynth"}
	cfg.Hardware.StreamTimeout = 1
	cfg.Render.RenderTimeout = 1

	engines := EnginesFromConfig(&cfg)
	if len(engines) != 3 {
		t.Fatalf("built %d engines, want 3", len(engines))
	}
	names := []string{engines[0].Name(), engines[1].Name(), engines[2].Name()}
	want := []string{"hardware", "external", "softsynth"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("engine order = %v, want %v", names, want)
		}
	}
}
