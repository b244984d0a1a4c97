package testsupport

import (
	"testing"

	"chipscore/internal/config"
	"chipscore/internal/jobstore"
	"chipscore/internal/manifest"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustLoadManifest loads the availability manifest for tests.
func MustLoadManifest(t testing.TB, cfg *config.Config) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Load(cfg.ManifestPath())
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	return m
}
