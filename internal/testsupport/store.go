package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sublate/internal/config"
	"sublate/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// WriteSourceFile creates a small media stand-in beneath the test temp dir
// and returns its path.
func WriteSourceFile(t testing.TB, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake media payload"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}
