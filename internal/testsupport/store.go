package testsupport

import (
	"testing"

	"meridian/internal/config"
	"meridian/internal/exq"
)

// MustOpenStore opens the exposure queue store for the test config and
// closes it on cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *exq.Store {
	t.Helper()
	store, err := exq.Open(cfg)
	if err != nil {
		t.Fatalf("open exposure queue store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
