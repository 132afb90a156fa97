package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind is required")
	}
	if c.Generation.MinScenes > c.Generation.MaxScenes {
		problems = append(problems, fmt.Sprintf(
			"generation.min_scenes (%d) exceeds generation.max_scenes (%d)",
			c.Generation.MinScenes, c.Generation.MaxScenes))
	}
	if _, ok := c.Providers[c.Generation.DefaultProvider]; !ok {
		problems = append(problems, fmt.Sprintf(
			"generation.default_provider %q has no [providers.%s] section",
			c.Generation.DefaultProvider, c.Generation.DefaultProvider))
	}
	for name, p := range c.Providers {
		if p.TokensPerRequest > p.TokensPerMinute {
			problems = append(problems, fmt.Sprintf(
				"providers.%s: tokens_per_request (%d) exceeds tokens_per_minute (%d)",
				name, p.TokensPerRequest, p.TokensPerMinute))
		}
	}
	if c.Limiter.BackoffBaseMillis > c.Limiter.BackoffMaxMillis {
		problems = append(problems, fmt.Sprintf(
			"limiter.backoff_base_ms (%d) exceeds limiter.backoff_max_ms (%d)",
			c.Limiter.BackoffBaseMillis, c.Limiter.BackoffMaxMillis))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
