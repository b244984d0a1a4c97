package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chipscore/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantCache := filepath.Join(tempHome, ".local", "share", "chipscore", "cache")
	if cfg.Paths.CacheDir != wantCache {
		t.Fatalf("unexpected cache dir: got %q want %q", cfg.Paths.CacheDir, wantCache)
	}
	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "chiptunes") {
		t.Fatalf("unexpected library dir: %q", cfg.Paths.LibraryDir)
	}
	if cfg.Render.SampleRate != 44100 {
		t.Fatalf("unexpected sample rate: %d", cfg.Render.SampleRate)
	}
	if cfg.Analysis.Workers < 1 {
		t.Fatalf("expected at least one extraction worker, got %d", cfg.Analysis.Workers)
	}
	if cfg.Workflow.Lanes != 4 {
		t.Fatalf("unexpected lane count: %d", cfg.Workflow.Lanes)
	}
}

func TestLoadParsesFileAndNormalizesEngines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[render]
engines = ["Softsynth", "softsynth", " external "]
sample_rate = 22050

[analysis]
analysis_rate = 11025

[logging]
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if got := cfg.Render.Engines; len(got) != 2 || got[0] != "softsynth" || got[1] != "external" {
		t.Fatalf("unexpected engines: %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[render]\nengines = [\"vacuum\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown engine") {
		t.Fatalf("expected unknown engine error, got %v", err)
	}
}

func TestLoadRejectsHardwareWithoutControlURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[render]\nengines = [\"hardware\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "control_url") {
		t.Fatalf("expected control_url error, got %v", err)
	}
}

func TestLoadRejectsAnalysisRateAboveRenderRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[render]\nsample_rate = 8000\n\n[analysis]\nanalysis_rate = 11025\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "analysis_rate") {
		t.Fatalf("expected analysis_rate error, got %v", err)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[render]") {
		t.Fatal("sample config missing render section")
	}
}
