package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"chipscore/internal/config"
)

// WriteSource places a playable source file in the library tree and returns
// its absolute path. The body is arbitrary; stub engines interpret it.
func WriteSource(t testing.TB, cfg *config.Config, relPath, body string) string {
	t.Helper()

	path := filepath.Join(cfg.Paths.LibraryDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteToneSource writes a source whose body names a tone frequency, for
// use with the tone stub engine.
func WriteToneSource(t testing.TB, cfg *config.Config, relPath string, freq int) string {
	t.Helper()
	return WriteSource(t, cfg, relPath, strconv.Itoa(freq))
}
