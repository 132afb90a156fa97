package testsupport

import (
	"path/filepath"
	"testing"

	"storyreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Generation.DefaultProvider = "stub"
	cfg.Recovery.Enabled = false
	cfg.Providers["stub"] = config.Provider{MaxConcurrentRequests: 8}
	cfg.Limiter = config.Limiter{BackoffBaseMillis: 1, BackoffMaxMillis: 10, MaxAttempts: 3}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithProvider installs or replaces one provider's settings.
func WithProvider(name string, settings config.Provider) ConfigOption {
	return func(cfg *config.Config) {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]config.Provider)
		}
		cfg.Providers[name] = settings
	}
}

// WithLimiter overrides the admission backoff settings.
func WithLimiter(limiter config.Limiter) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Limiter = limiter
	}
}
