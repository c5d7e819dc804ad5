package testsupport

import (
	"testing"

	"renderwatch/internal/config"
	"renderwatch/internal/ledger"
)

// MustOpenLedger opens the ledger at the config's state path and registers
// cleanup. Failures abort the test.
func MustOpenLedger(t *testing.T, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg.StateDBPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close ledger: %v", err)
		}
	})
	return store
}
