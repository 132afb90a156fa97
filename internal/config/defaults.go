package config

const (
	defaultDataDir              = "~/.local/share/storyreel"
	defaultLogDir               = "~/.local/share/storyreel/logs"
	defaultAPIBind              = "127.0.0.1:7319"
	defaultProvider             = "openai"
	defaultMinScenes            = 1
	defaultMaxScenes            = 24
	defaultSceneDuration        = 6.0
	defaultProviderTimeout      = 120
	defaultTokensPerMinute      = 60
	defaultTokensPerRequest     = 1
	defaultMaxConcurrent        = 4
	defaultBackoffBaseMillis    = 500
	defaultBackoffMaxMillis     = 30000
	defaultBackoffMaxAttempts   = 8
	defaultRecoveryScanInterval = 60
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"

	defaultOpenAIBaseURL    = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/chat/completions"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Generation: Generation{
			DefaultProvider:      defaultProvider,
			MinScenes:            defaultMinScenes,
			MaxScenes:            defaultMaxScenes,
			SceneDurationSeconds: defaultSceneDuration,
		},
		Providers: map[string]Provider{
			"openai": {
				BaseURL:               defaultOpenAIBaseURL,
				Model:                 defaultOpenAIModel,
				TimeoutSeconds:        defaultProviderTimeout,
				TokensPerMinute:       defaultTokensPerMinute,
				TokensPerRequest:      defaultTokensPerRequest,
				MaxConcurrentRequests: defaultMaxConcurrent,
			},
			"anthropic": {
				BaseURL:               defaultAnthropicBaseURL,
				Model:                 defaultAnthropicModel,
				TimeoutSeconds:        defaultProviderTimeout,
				TokensPerMinute:       defaultTokensPerMinute,
				TokensPerRequest:      defaultTokensPerRequest,
				MaxConcurrentRequests: defaultMaxConcurrent,
			},
		},
		Limiter: Limiter{
			BackoffBaseMillis: defaultBackoffBaseMillis,
			BackoffMaxMillis:  defaultBackoffMaxMillis,
			MaxAttempts:       defaultBackoffMaxAttempts,
		},
		Recovery: Recovery{
			Enabled:             true,
			ScanIntervalSeconds: defaultRecoveryScanInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
