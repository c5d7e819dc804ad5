package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"renderwatch/internal/config"
)

// NewConfig returns a config rooted in temp directories with offline mode
// enabled and timing thresholds zeroed so pipeline tests run immediately.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	defaults := config.Default()
	cfg := &defaults
	cfg.GatePassword = "test"
	cfg.OfflineMode = true
	cfg.ApollovaRoot = filepath.Join(root, "Apollova")
	cfg.StateDBPath = filepath.Join(root, "state", "renderwatch.db")
	cfg.LogDir = filepath.Join(root, "logs")
	cfg.MinFileAgeSeconds = 0
	cfg.WatchPollIntervalSeconds = 1

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for folder := range cfg.FolderAccountMap {
		renders := filepath.Join(cfg.ApollovaRoot, folder, cfg.RendersSubfolder)
		if err := os.MkdirAll(renders, 0o755); err != nil {
			t.Fatalf("create renders folder: %v", err)
		}
	}
	return cfg
}
