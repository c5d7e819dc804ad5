package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"renderwatch/internal/config"
)

// WriteVideo drops a fake render into the folder's renders directory and
// returns its absolute path.
func WriteVideo(t *testing.T, cfg *config.Config, folder, name string) string {
	t.Helper()

	dir := filepath.Join(cfg.ApollovaRoot, folder, cfg.RendersSubfolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create renders dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("video-bytes:"+name), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}
