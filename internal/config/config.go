package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/providers"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    logger,
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	setDefaults(cm.v, DefaultConfig())

	// Environment variables with TAKEOFF_ prefix, e.g. TAKEOFF_SERVER_PORT
	cm.v.SetEnvPrefix("TAKEOFF")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.takeoff")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers leaf defaults so every key is visible to env lookup.
func setDefaults(v *viper.Viper, d *Config) {
	for name, p := range d.LLMProviders {
		prefix := "llm_providers." + name + "."
		v.SetDefault(prefix+"type", p.Type)
		v.SetDefault(prefix+"model", p.Model)
		v.SetDefault(prefix+"api_key", p.APIKey)
		v.SetDefault(prefix+"rate_limit", p.RateLimit)
		v.SetDefault(prefix+"max_retries", p.MaxRetries)
		v.SetDefault(prefix+"timeout_seconds", p.TimeoutSeconds)
		v.SetDefault(prefix+"enabled", p.Enabled)
	}

	v.SetDefault("defaults.providers", d.Defaults.Providers)
	v.SetDefault("defaults.attempts_per_provider", d.Defaults.AttemptsPerProvider)
	v.SetDefault("defaults.retry_delay_ms", d.Defaults.RetryDelayMs)

	v.SetDefault("analysis.min_items", d.Analysis.MinItems)
	v.SetDefault("analysis.items_per_image", d.Analysis.ItemsPerImage)
	v.SetDefault("analysis.max_attempts", d.Analysis.MaxAttempts)
	v.SetDefault("analysis.initial_max_tokens", d.Analysis.InitialMaxTokens)
	v.SetDefault("analysis.max_tokens_cap", d.Analysis.MaxTokensCap)
	v.SetDefault("analysis.token_growth", d.Analysis.TokenGrowth)
	v.SetDefault("analysis.call_timeout_seconds", d.Analysis.CallTimeoutSeconds)
	v.SetDefault("analysis.temperature", d.Analysis.Temperature)
	v.SetDefault("analysis.exhaustion_backoff_seconds", d.Analysis.ExhaustionBackoffSeconds)

	v.SetDefault("batch.pages_per_batch", d.Batch.PagesPerBatch)
	v.SetDefault("batch.estimated_seconds_per_batch", d.Batch.EstimatedSecondsPerBatch)
	v.SetDefault("batch.lease_seconds", d.Batch.LeaseSeconds)
	v.SetDefault("batch.max_batches_per_call", d.Batch.MaxBatchesPerCall)
	v.SetDefault("batch.continue_timeout_seconds", d.Batch.ContinueTimeoutSeconds)

	v.SetDefault("limits.max_active_jobs_per_caller", d.Limits.MaxActiveJobsPerCaller)
	v.SetDefault("limits.max_pages", d.Limits.MaxPages)

	v.SetDefault("pages.dpi", d.Pages.DPI)
	v.SetDefault("pages.concurrency", d.Pages.Concurrency)

	tokens := make([]map[string]any, 0, len(d.Auth.Tokens))
	for _, t := range d.Auth.Tokens {
		tokens = append(tokens, map[string]any{"token": t.Token, "caller_id": t.CallerID, "role": t.Role})
	}
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.tokens", tokens)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeoutSeconds)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			cm.logger.Warn("reloaded config is invalid, keeping previous", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		cm.logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("analysis.min_items", c.Analysis.MinItems)
	positive("analysis.max_attempts", c.Analysis.MaxAttempts)
	positive("analysis.initial_max_tokens", c.Analysis.InitialMaxTokens)
	positive("batch.pages_per_batch", c.Batch.PagesPerBatch)
	positive("batch.lease_seconds", c.Batch.LeaseSeconds)
	positive("batch.max_batches_per_call", c.Batch.MaxBatchesPerCall)
	positive("limits.max_active_jobs_per_caller", c.Limits.MaxActiveJobsPerCaller)
	positive("limits.max_pages", c.Limits.MaxPages)

	if c.Analysis.ItemsPerImage < 0 {
		errs = append(errs, fmt.Errorf("analysis.items_per_image must not be negative, got %d", c.Analysis.ItemsPerImage))
	}
	if c.Analysis.MaxTokensCap < c.Analysis.InitialMaxTokens {
		errs = append(errs, fmt.Errorf("analysis.max_tokens_cap (%d) is below analysis.initial_max_tokens (%d)",
			c.Analysis.MaxTokensCap, c.Analysis.InitialMaxTokens))
	}
	if c.Analysis.TokenGrowth < 1 {
		errs = append(errs, fmt.Errorf("analysis.token_growth must be at least 1, got %g", c.Analysis.TokenGrowth))
	}
	for _, name := range c.Defaults.Providers {
		if _, ok := c.LLMProviders[name]; !ok {
			errs = append(errs, fmt.Errorf("defaults.providers names unknown provider %q", name))
		}
	}
	for i, t := range c.Auth.Tokens {
		switch auth.Role(t.Role) {
		case "", auth.RoleUser, auth.RolePrivileged, auth.RoleInternal:
		default:
			errs = append(errs, fmt.Errorf("auth.tokens[%d] has unknown role %q", i, t.Role))
		}
	}
	return errors.Join(errs...)
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:       llm.Type,
			Model:      llm.Model,
			APIKey:     ResolveEnvVars(llm.APIKey),
			BaseURL:    llm.BaseURL,
			RateLimit:  llm.RateLimit,
			MaxRetries: llm.MaxRetries,
			Timeout:    time.Duration(llm.TimeoutSeconds) * time.Second,
			Enabled:    llm.Enabled,
		}
	}

	return cfg
}

// AuthTokens returns the configured bearer tokens with ${ENV_VAR}
// references resolved. Tokens that resolve empty are dropped by the
// authorizer.
func (c *Config) AuthTokens() []auth.Token {
	tokens := make([]auth.Token, 0, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		tokens = append(tokens, auth.Token{
			Token:    ResolveEnvVars(t.Token),
			CallerID: t.CallerID,
			Role:     auth.Role(t.Role),
		})
	}
	return tokens
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Takeoff configuration
# API keys and auth tokens use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENROUTER_API_KEY=xxx OPENAI_API_KEY=xxx TAKEOFF_ADMIN_TOKEN=xxx
# Any setting can be overridden with TAKEOFF_<SECTION>_<KEY>, e.g. TAKEOFF_SERVER_PORT=9090

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
