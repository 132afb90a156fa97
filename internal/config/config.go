package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Generation contains defaults for new storyboard jobs.
type Generation struct {
	DefaultProvider      string  `toml:"default_provider"`
	MinScenes            int     `toml:"min_scenes"`
	MaxScenes            int     `toml:"max_scenes"`
	SceneDurationSeconds float64 `toml:"scene_duration_seconds"`
}

// Provider contains per-provider connection and throughput settings.
type Provider struct {
	APIKey                string `toml:"api_key"`
	BaseURL               string `toml:"base_url"`
	Model                 string `toml:"model"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	TokensPerMinute       int    `toml:"tokens_per_minute"`
	TokensPerRequest      int    `toml:"tokens_per_request"`
	MaxConcurrentRequests int    `toml:"max_concurrent_requests"`
}

// Limiter contains admission backoff settings for the rate limiter.
type Limiter struct {
	BackoffBaseMillis int `toml:"backoff_base_ms"`
	BackoffMaxMillis  int `toml:"backoff_max_ms"`
	MaxAttempts       int `toml:"max_attempts"`
}

// Recovery contains settings for the interrupted-job scanner.
type Recovery struct {
	Enabled             bool `toml:"enabled"`
	ScanIntervalSeconds int  `toml:"scan_interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for storyreel.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Generation: storyboard plan defaults
//   - Providers: per-provider credentials and token-bucket settings
//   - Limiter: admission backoff behavior
//   - Recovery: interrupted-job scan interval
//   - Logging: log format and level
type Config struct {
	Paths      Paths               `toml:"paths"`
	Generation Generation          `toml:"generation"`
	Providers  map[string]Provider `toml:"providers"`
	Limiter    Limiter             `toml:"limiter"`
	Recovery   Recovery            `toml:"recovery"`
	Logging    Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyreel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.StoryboardDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoryboardDir returns the directory holding storyboard records.
func (c *Config) StoryboardDir() string {
	return filepath.Join(c.Paths.DataDir, "storyboards")
}

// AssetDBPath returns the path of the asset store database.
func (c *Config) AssetDBPath() string {
	return filepath.Join(c.Paths.DataDir, "assets.db")
}

// ProviderSettings returns the settings for a named provider, falling back
// to zero values when the provider is not configured.
func (c *Config) ProviderSettings(name string) (Provider, bool) {
	p, ok := c.Providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
