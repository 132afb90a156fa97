package testsupport

import (
	"testing"

	"storyreel/internal/assets"
	"storyreel/internal/config"
	"storyreel/internal/storyboard"
)

// MustOpenStoryboardStore opens a storyboard store for tests, failing the
// test on error and closing nothing (the store holds no handles).
func MustOpenStoryboardStore(t testing.TB, cfg *config.Config, opts ...storyboard.Option) *storyboard.Store {
	t.Helper()
	store, err := storyboard.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("open storyboard store: %v", err)
	}
	return store
}

// MustOpenAssetStore opens an asset store for tests and registers cleanup.
func MustOpenAssetStore(t testing.TB, cfg *config.Config) *assets.Store {
	t.Helper()
	store, err := assets.Open(cfg)
	if err != nil {
		t.Fatalf("open asset store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
