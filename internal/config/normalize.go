package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGeneration()
	c.normalizeProviders()
	c.normalizeLimiter()
	c.normalizeRecovery()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeGeneration() {
	c.Generation.DefaultProvider = strings.ToLower(strings.TrimSpace(c.Generation.DefaultProvider))
	if c.Generation.DefaultProvider == "" {
		c.Generation.DefaultProvider = defaultProvider
	}
	if c.Generation.MinScenes <= 0 {
		c.Generation.MinScenes = defaultMinScenes
	}
	if c.Generation.MaxScenes <= 0 {
		c.Generation.MaxScenes = defaultMaxScenes
	}
	if c.Generation.SceneDurationSeconds <= 0 {
		c.Generation.SceneDurationSeconds = defaultSceneDuration
	}
}

func (c *Config) normalizeProviders() {
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	normalized := make(map[string]Provider, len(c.Providers))
	for name, p := range c.Providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		p.APIKey = strings.TrimSpace(p.APIKey)
		if p.APIKey == "" {
			if value, ok := os.LookupEnv(strings.ToUpper(key) + "_API_KEY"); ok {
				p.APIKey = strings.TrimSpace(value)
			}
		}
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.Model = strings.TrimSpace(p.Model)
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = defaultProviderTimeout
		}
		if p.TokensPerMinute <= 0 {
			p.TokensPerMinute = defaultTokensPerMinute
		}
		if p.TokensPerRequest <= 0 {
			p.TokensPerRequest = defaultTokensPerRequest
		}
		if p.MaxConcurrentRequests <= 0 {
			p.MaxConcurrentRequests = defaultMaxConcurrent
		}
		normalized[key] = p
	}
	c.Providers = normalized
}

func (c *Config) normalizeLimiter() {
	if c.Limiter.BackoffBaseMillis <= 0 {
		c.Limiter.BackoffBaseMillis = defaultBackoffBaseMillis
	}
	if c.Limiter.BackoffMaxMillis <= 0 {
		c.Limiter.BackoffMaxMillis = defaultBackoffMaxMillis
	}
	if c.Limiter.MaxAttempts <= 0 {
		c.Limiter.MaxAttempts = defaultBackoffMaxAttempts
	}
}

func (c *Config) normalizeRecovery() {
	if c.Recovery.ScanIntervalSeconds <= 0 {
		c.Recovery.ScanIntervalSeconds = defaultRecoveryScanInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
