package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chipscore/internal/jobstore"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	library := filepath.Join(base, "library")
	if err := os.MkdirAll(library, 0o755); err != nil {
		t.Fatalf("create library dir: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
library_dir = %q
cache_dir = %q
output_dir = %q
log_dir = %q
state_dir = %q
`,
		library,
		filepath.Join(base, "cache"),
		filepath.Join(base, "output"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "state"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{baseDir: base, configPath: configPath}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got %q", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowPrintsActiveValues(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.configPath)
	requireContains(t, out, "library_dir")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status on empty state: %v", err)
	}
	requireContains(t, out, "No jobs recorded")

	// Seed job state the way a run would.
	seedJobs(t, env)

	out, _, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "done")
	requireContains(t, out, "failed")
	requireContains(t, out, "engine gave up")

	out, _, err = runCLI(t, env, "status", "--jobs", "done")
	if err != nil {
		t.Fatalf("status --jobs done: %v", err)
	}
	requireContains(t, out, "tunes/good.sid")

	out, _, err = runCLI(t, env, "status", "--clear")
	if err != nil {
		t.Fatalf("status --clear: %v", err)
	}
	requireContains(t, out, "Job state cleared")

	out, _, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status after clear: %v", err)
	}
	requireContains(t, out, "No jobs recorded")
}

func seedJobs(t *testing.T, env *cliTestEnv) {
	t.Helper()
	ctx := context.Background()

	store, err := jobstore.OpenPath(filepath.Join(env.baseDir, "state", "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	defer store.Close()

	if err := store.Upsert(ctx, "tunes/good.sid", "/library/tunes/good.sid", 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.MarkDone(ctx, "tunes/good.sid", "softsynth", "primary-dsp", "2", "abc123"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := store.Upsert(ctx, "tunes/bad.sid", "/library/tunes/bad.sid", 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.MarkFailed(ctx, "tunes/bad.sid", "engine gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestManifestCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "manifest")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	requireContains(t, out, "Manifest is empty")
}
