package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyreel/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path %q, want %q", resolved, path)
	}
	if cfg.Generation.DefaultProvider != "openai" {
		t.Fatalf("default provider %q", cfg.Generation.DefaultProvider)
	}
	if cfg.Generation.MinScenes != 1 || cfg.Generation.MaxScenes != 24 {
		t.Fatalf("scene bounds %d..%d", cfg.Generation.MinScenes, cfg.Generation.MaxScenes)
	}
	if !cfg.Recovery.Enabled {
		t.Fatal("recovery should default on")
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data dir not expanded: %q", cfg.Paths.DataDir)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	base := t.TempDir()
	path := writeConfig(t, `
[paths]
data_dir = "`+filepath.Join(base, "data")+`"
api_bind = "127.0.0.1:9000"

[generation]
default_provider = " OpenAI "
min_scenes = 2
max_scenes = 8

[providers.openai]
api_key = "file-key"
model = "gpt-4o-mini"
tokens_per_minute = 30

[providers.anthropic]
api_key = "other-key"

[recovery]
enabled = false
`)

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Paths.APIBind != "127.0.0.1:9000" {
		t.Fatalf("api bind %q", cfg.Paths.APIBind)
	}
	if cfg.Generation.DefaultProvider != "openai" {
		t.Fatalf("provider not normalized: %q", cfg.Generation.DefaultProvider)
	}
	openai, ok := cfg.ProviderSettings("openai")
	if !ok {
		t.Fatal("openai settings missing")
	}
	if openai.APIKey != "file-key" || openai.TokensPerMinute != 30 {
		t.Fatalf("openai settings %+v", openai)
	}
	// Omitted throughput fields pick up defaults.
	if openai.TokensPerRequest != 1 || openai.MaxConcurrentRequests != 4 {
		t.Fatalf("openai defaults not applied: %+v", openai)
	}
	if cfg.Recovery.Enabled {
		t.Fatal("recovery should be disabled")
	}
	if cfg.Recovery.ScanIntervalSeconds != 60 {
		t.Fatalf("scan interval %d", cfg.Recovery.ScanIntervalSeconds)
	}
}

func TestLoadReadsAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	path := writeConfig(t, `
[providers.openai]
model = "gpt-4o-mini"
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	openai, _ := cfg.ProviderSettings("openai")
	if openai.APIKey != "env-key" {
		t.Fatalf("expected env key, got %q", openai.APIKey)
	}
}

func TestLoadRejectsInvalidSceneBounds(t *testing.T) {
	path := writeConfig(t, `
[generation]
min_scenes = 10
max_scenes = 2
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "min_scenes") {
		t.Fatalf("expected scene bound error, got %v", err)
	}
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
[generation]
default_provider = "midjourney"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default provider error, got %v", err)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[paths\ndata_dir = ")
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCreateSampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config must load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config must validate: %v", err)
	}
}

func TestStoragePaths(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = "/var/lib/storyreel"
	if got := cfg.StoryboardDir(); got != filepath.Join("/var/lib/storyreel", "storyboards") {
		t.Fatalf("storyboard dir %q", got)
	}
	if got := cfg.AssetDBPath(); got != filepath.Join("/var/lib/storyreel", "assets.db") {
		t.Fatalf("asset db path %q", got)
	}
}
