package providers

import (
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()
		r.Register("primary", mock, 30)

		got, err := r.Get("primary")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != LLMClient(mock) {
			t.Error("Get() returned a different client")
		}
		if r.Limiter("primary") == nil {
			t.Error("expected a limiter for registered client")
		}
		if r.Limiter("primary").Status().TokensLimit != 30 {
			t.Errorf("TokensLimit = %d, want 30", r.Limiter("primary").Status().TokensLimit)
		}
	})

	t.Run("missing client", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Get("nope"); err == nil {
			t.Error("expected error for missing client")
		}
		if r.Limiter("nope") != nil {
			t.Error("expected nil limiter for missing client")
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		r := NewRegistry()
		r.Register("zeta", NewMockClient(), 0)
		r.Register("alpha", NewMockClient(), 0)
		r.Register("mid", NewMockClient(), 0)

		got := r.List()
		want := []string{"alpha", "mid", "zeta"}
		if len(got) != len(want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := RegistryConfig{LLMProviders: map[string]LLMProviderConfig{
		"openrouter": {Type: OpenRouterName, APIKey: "k1", RateLimit: 60, Enabled: true},
		"openai":     {Type: OpenAIName, APIKey: "k2", RateLimit: 30, Enabled: true},
		"disabled":   {Type: OpenRouterName, APIKey: "k3", Enabled: false},
		"nokey":      {Type: OpenAIName, Enabled: true},
		"weird":      {Type: "carrier-pigeon", APIKey: "k4", Enabled: true},
	}}

	r := NewRegistryFromConfig(cfg, nil)
	got := r.List()
	if len(got) != 2 || got[0] != "openai" || got[1] != "openrouter" {
		t.Fatalf("List() = %v, want [openai openrouter]", got)
	}

	client, err := r.Get("openrouter")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.(*OpenRouterClient); !ok {
		t.Errorf("openrouter client type = %T", client)
	}
	client, _ = r.Get("openai")
	if _, ok := client.(*OpenAIClient); !ok {
		t.Errorf("openai client type = %T", client)
	}
}

func TestRegistryReload(t *testing.T) {
	cfg := RegistryConfig{LLMProviders: map[string]LLMProviderConfig{
		"openrouter": {Type: OpenRouterName, APIKey: "k1", Enabled: true},
		"openai":     {Type: OpenAIName, APIKey: "k2", Enabled: true},
	}}
	r := NewRegistryFromConfig(cfg, nil)
	r.Register("mock", NewMockClient(), 0)

	before, _ := r.Get("openrouter")

	t.Run("unchanged config keeps client", func(t *testing.T) {
		r.Reload(cfg)
		after, _ := r.Get("openrouter")
		if after != before {
			t.Error("expected the same client instance")
		}
	})

	t.Run("changed config recreates client", func(t *testing.T) {
		changed := RegistryConfig{LLMProviders: map[string]LLMProviderConfig{
			"openrouter": {Type: OpenRouterName, APIKey: "k1", Model: "openai/gpt-4o", Enabled: true},
		}}
		r.Reload(changed)

		after, err := r.Get("openrouter")
		if err != nil {
			t.Fatal(err)
		}
		if after == before {
			t.Error("expected a new client instance")
		}
		if _, err := r.Get("openai"); err == nil {
			t.Error("expected openai to be unregistered")
		}
		if _, err := r.Get("mock"); err != nil {
			t.Error("manually registered client should survive reload")
		}
	})
}
