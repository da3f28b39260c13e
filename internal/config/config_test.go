package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.LLMProviders["openrouter"].APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Analysis.MinItems != 20 || cfg.Analysis.ItemsPerImage != 4 || cfg.Analysis.MaxAttempts != 3 {
		t.Errorf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.Batch.Lease() != 15*time.Minute {
		t.Errorf("Lease() = %v, want 15m", cfg.Batch.Lease())
	}
	if cfg.Analysis.CallTimeout() != 180*time.Second {
		t.Errorf("CallTimeout() = %v, want 180s", cfg.Analysis.CallTimeout())
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
analysis:
  min_items: 12
llm_providers:
  local:
    type: openai
    model: llava
    api_key: "test_value"
    base_url: "http://localhost:11434/v1"
    enabled: true
`)

		mgr, err := NewManager(configFile, nil)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Analysis.MinItems != 12 {
			t.Errorf("expected min_items 12, got %d", cfg.Analysis.MinItems)
		}
		if cfg.Analysis.ItemsPerImage != 4 {
			t.Errorf("expected default items_per_image 4, got %d", cfg.Analysis.ItemsPerImage)
		}
		local := cfg.LLMProviders["local"]
		if local.APIKey != "test_value" || local.BaseURL != "http://localhost:11434/v1" {
			t.Errorf("unexpected local provider: %+v", local)
		}
		if _, ok := cfg.LLMProviders["openrouter"]; !ok {
			t.Error("expected default openrouter provider to remain")
		}
		if mgr.ConfigFileUsed() != configFile {
			t.Errorf("ConfigFileUsed() = %q, want %q", mgr.ConfigFileUsed(), configFile)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("TAKEOFF_SERVER_PORT", "9999")
		t.Setenv("TAKEOFF_LIMITS_MAX_PAGES", "42")
		configFile := writeConfig(t, `
server:
  port: "8081"
`)

		mgr, err := NewManager(configFile, nil)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Server.Port != "9999" {
			t.Errorf("expected port 9999, got %s", cfg.Server.Port)
		}
		if cfg.Limits.MaxPages != 42 {
			t.Errorf("expected max_pages 42, got %d", cfg.Limits.MaxPages)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		configFile := writeConfig(t, "analysis: [unclosed\n")
		if _, err := NewManager(configFile, nil); err == nil {
			t.Error("expected error for malformed config")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.MaxTokensCap = 100
	cfg.Batch.PagesPerBatch = 0
	cfg.Defaults.Providers = []string{"openrouter", "nope"}
	cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenCfg{Token: "x", Role: "root"})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_tokens_cap", "batch.pages_per_batch", `"nope"`, `"root"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {Type: "openrouter", Model: "m", APIKey: "${TEST_OPENROUTER_KEY}", RateLimit: 30, TimeoutSeconds: 60, Enabled: true},
			"literal":    {Type: "openai", APIKey: "direct-key"},
		},
	}

	rc := cfg.ToProviderRegistryConfig()
	or := rc.LLMProviders["openrouter"]
	if or.APIKey != "or-key-123" {
		t.Errorf("expected or-key-123, got %s", or.APIKey)
	}
	if or.Timeout != time.Minute || or.RateLimit != 30 || !or.Enabled {
		t.Errorf("unexpected provider config: %+v", or)
	}
	if rc.LLMProviders["literal"].APIKey != "direct-key" {
		t.Errorf("expected direct-key, got %s", rc.LLMProviders["literal"].APIKey)
	}
}

func TestConfig_AuthTokens(t *testing.T) {
	t.Setenv("TEST_ADMIN_TOKEN", "s3cret")

	cfg := &Config{Auth: AuthCfg{Tokens: []TokenCfg{
		{Token: "${TEST_ADMIN_TOKEN}", CallerID: "admin", Role: "privileged"},
		{Token: "${UNSET_TOKEN_12345}", CallerID: "ghost", Role: "internal"},
	}}}

	tokens := cfg.AuthTokens()
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Token != "s3cret" || tokens[0].Role != auth.RolePrivileged {
		t.Errorf("unexpected token: %+v", tokens[0])
	}
	if tokens[1].Token != "" {
		t.Errorf("expected unresolved token to be empty, got %q", tokens[1].Token)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("failed to load written default: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Batch.PagesPerBatch != 5 || cfg.Limits.MaxActiveJobsPerCaller != 3 {
		t.Errorf("unexpected round-tripped config: %+v %+v", cfg.Batch, cfg.Limits)
	}
	if len(cfg.Auth.Tokens) != 2 {
		t.Errorf("expected 2 default tokens, got %d", len(cfg.Auth.Tokens))
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"8080\"\n"), nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"8080\"\n"), nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Server.Port
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, `
analysis:
  min_items: 20
`)

	mgr, err := NewManager(configFile, nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if got := mgr.Get().Analysis.MinItems; got != 20 {
		t.Errorf("initial value mismatch: expected 20, got %d", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Int32

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int32(cfg.Analysis.MinItems))
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("analysis:\n  min_items: 30\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lastValue.Load() == 30 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Analysis.MinItems; got != 30 {
		t.Errorf("config not updated: expected 30, got %d", got)
	}
	if v := lastValue.Load(); v != 30 {
		t.Errorf("callback received wrong value: expected 30, got %d", v)
	}
}
