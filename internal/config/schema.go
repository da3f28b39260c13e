package config

import "time"

// Config holds takeoff configuration.
// Stored at: ~/.takeoff/config.yaml (or ./config.yaml)
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Analysis     AnalysisCfg               `mapstructure:"analysis" yaml:"analysis"`
	Batch        BatchCfg                  `mapstructure:"batch" yaml:"batch"`
	Limits       LimitsCfg                 `mapstructure:"limits" yaml:"limits"`
	Pages        PagesCfg                  `mapstructure:"pages" yaml:"pages"`
	Auth         AuthCfg                   `mapstructure:"auth" yaml:"auth"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
}

// LLMProviderCfg configures a vision LLM provider.
type LLMProviderCfg struct {
	Type           string `mapstructure:"type" yaml:"type"`                       // "openrouter", "openai"
	Model          string `mapstructure:"model" yaml:"model"`                     // Model name
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`     // Optional endpoint override
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per minute
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`         // HTTP-level retries
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP client timeout
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies provider fail-over behavior.
type DefaultsCfg struct {
	Providers           []string `mapstructure:"providers" yaml:"providers"`                         // Fail-over order
	AttemptsPerProvider int      `mapstructure:"attempts_per_provider" yaml:"attempts_per_provider"` // Calls to one provider before moving on
	RetryDelayMs        int      `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// AnalysisCfg tunes the threshold-driven retry loop.
type AnalysisCfg struct {
	MinItems                 int     `mapstructure:"min_items" yaml:"min_items"`
	ItemsPerImage            int     `mapstructure:"items_per_image" yaml:"items_per_image"`
	MaxAttempts              int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialMaxTokens         int     `mapstructure:"initial_max_tokens" yaml:"initial_max_tokens"`
	MaxTokensCap             int     `mapstructure:"max_tokens_cap" yaml:"max_tokens_cap"`
	TokenGrowth              float64 `mapstructure:"token_growth" yaml:"token_growth"`
	CallTimeoutSeconds       int     `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
	Temperature              float64 `mapstructure:"temperature" yaml:"temperature"`
	ExhaustionBackoffSeconds int     `mapstructure:"exhaustion_backoff_seconds" yaml:"exhaustion_backoff_seconds"`
}

// CallTimeout returns the per-invocation timeout.
func (a AnalysisCfg) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutSeconds) * time.Second
}

// ExhaustionBackoff returns the pause after all providers failed.
func (a AnalysisCfg) ExhaustionBackoff() time.Duration {
	return time.Duration(a.ExhaustionBackoffSeconds) * time.Second
}

// BatchCfg configures job batching and continuation budgets.
type BatchCfg struct {
	PagesPerBatch            int `mapstructure:"pages_per_batch" yaml:"pages_per_batch"`
	EstimatedSecondsPerBatch int `mapstructure:"estimated_seconds_per_batch" yaml:"estimated_seconds_per_batch"`
	LeaseSeconds             int `mapstructure:"lease_seconds" yaml:"lease_seconds"`               // Reclaim batches stuck running this long
	MaxBatchesPerCall        int `mapstructure:"max_batches_per_call" yaml:"max_batches_per_call"` // Continuation default
	ContinueTimeoutSeconds   int `mapstructure:"continue_timeout_seconds" yaml:"continue_timeout_seconds"`
}

// Lease returns the batch claim lease.
func (b BatchCfg) Lease() time.Duration {
	return time.Duration(b.LeaseSeconds) * time.Second
}

// ContinueTimeout returns the default soft deadline of a continuation call.
func (b BatchCfg) ContinueTimeout() time.Duration {
	return time.Duration(b.ContinueTimeoutSeconds) * time.Second
}

// LimitsCfg holds per-caller admission limits.
type LimitsCfg struct {
	MaxActiveJobsPerCaller int `mapstructure:"max_active_jobs_per_caller" yaml:"max_active_jobs_per_caller"`
	MaxPages               int `mapstructure:"max_pages" yaml:"max_pages"`
}

// PagesCfg configures page loading.
type PagesCfg struct {
	DPI         int `mapstructure:"dpi" yaml:"dpi"`
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// AuthCfg configures bearer-token authentication. With Enabled false every
// request acts as a local privileged caller.
type AuthCfg struct {
	Enabled bool       `mapstructure:"enabled" yaml:"enabled"`
	Tokens  []TokenCfg `mapstructure:"tokens" yaml:"tokens"`
}

// TokenCfg maps a bearer token to a caller.
type TokenCfg struct {
	Token    string `mapstructure:"token" yaml:"token"` // Supports ${ENV_VAR} syntax
	CallerID string `mapstructure:"caller_id" yaml:"caller_id"`
	Role     string `mapstructure:"role" yaml:"role"` // user, privileged, internal
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host                string `mapstructure:"host" yaml:"host"`
	Port                string `mapstructure:"port" yaml:"port"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				Model:          "google/gemini-2.5-pro",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      60,
				MaxRetries:     3,
				TimeoutSeconds: 300,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o",
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      60,
				MaxRetries:     2,
				TimeoutSeconds: 300,
				Enabled:        true,
			},
		},
		Defaults: DefaultsCfg{
			Providers:           []string{"openrouter", "openai"},
			AttemptsPerProvider: 2,
			RetryDelayMs:        2000,
		},
		Analysis: AnalysisCfg{
			MinItems:                 20,
			ItemsPerImage:            4,
			MaxAttempts:              3,
			InitialMaxTokens:         8192,
			MaxTokensCap:             32000,
			TokenGrowth:              1.5,
			CallTimeoutSeconds:       180,
			Temperature:              0.1,
			ExhaustionBackoffSeconds: 5,
		},
		Batch: BatchCfg{
			PagesPerBatch:            5,
			EstimatedSecondsPerBatch: 90,
			LeaseSeconds:             900,
			MaxBatchesPerCall:        3,
			ContinueTimeoutSeconds:   240,
		},
		Limits: LimitsCfg{
			MaxActiveJobsPerCaller: 3,
			MaxPages:               500,
		},
		Pages: PagesCfg{
			DPI:         150,
			Concurrency: 4,
		},
		Auth: AuthCfg{
			Enabled: false,
			Tokens: []TokenCfg{
				{Token: "${TAKEOFF_ADMIN_TOKEN}", CallerID: "admin", Role: "privileged"},
				{Token: "${TAKEOFF_SCHEDULER_TOKEN}", CallerID: "scheduler", Role: "internal"},
			},
		},
		Server: ServerCfg{
			Host:                "127.0.0.1",
			Port:                "8080",
			WriteTimeoutSeconds: 600,
		},
	}
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
