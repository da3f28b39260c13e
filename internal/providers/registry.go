package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured LLM clients and their rate limiters.
// It supports config-driven instantiation, hot-reload, and provides
// thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]LLMClient
	limiters map[string]*RateLimiter
	configs  map[string]LLMProviderConfig
	logger   *slog.Logger
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type       string // "openrouter", "openai"
	Model      string
	APIKey     string // Resolved API key
	BaseURL    string
	RateLimit  int // Requests per minute
	MaxRetries int
	Timeout    time.Duration
	Enabled    bool
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]LLMClient),
		limiters: make(map[string]*RateLimiter),
		configs:  make(map[string]LLMProviderConfig),
		logger:   slog.Default(),
	}
}

// NewRegistryFromConfig creates a registry with providers based on
// configuration. Only enabled providers with an API key are registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Register adds a client under name with an optional rate limit (RPM).
func (r *Registry) Register(name string, client LLMClient, rpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.limiters[name] = NewRateLimiter(rpm)
	delete(r.configs, name)
	r.logger.Info("registered LLM client", "name", name)
}

// Get returns a client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// Limiter returns the rate limiter for a provider, or nil.
func (r *Registry) Limiter(name string) *RateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

// List returns all registered client names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload updates the registry based on new configuration. Providers that
// are no longer configured are unregistered; providers with changed
// settings are recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		want[name] = true

		prev, hasExisting := r.configs[name]
		if hasExisting && prev == provCfg {
			continue
		}
		client := createLLMClient(provCfg)
		if client == nil {
			r.logger.Warn("unknown LLM provider type", "name", name, "type", provCfg.Type)
			continue
		}
		r.clients[name] = client
		r.limiters[name] = NewRateLimiter(provCfg.RateLimit)
		r.configs[name] = provCfg
		if hasExisting {
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
		}
	}

	// Only config-managed clients are removed; Register'd ones stay.
	for name := range r.configs {
		if !want[name] {
			delete(r.clients, name)
			delete(r.limiters, name)
			delete(r.configs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.MaxRetries,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
	default:
		return nil
	}
}
