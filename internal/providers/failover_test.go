package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestFailover(clients ...*MockClient) (*Failover, *Registry) {
	r := NewRegistry()
	order := make([]string, 0, len(clients))
	for _, c := range clients {
		r.Register(c.Name(), c, 6000)
		order = append(order, c.Name())
	}
	f := NewFailover(FailoverConfig{
		Registry:            r,
		Order:               func() []string { return order },
		AttemptsPerProvider: 2,
		RetryDelay:          time.Millisecond,
	})
	return f, r
}

func TestFailover_Invoke(t *testing.T) {
	req := &InvokeRequest{
		SystemPrompt: "system",
		UserPrompt:   "analyze",
		Images:       [][]byte{[]byte("img")},
		MaxTokens:    8192,
		Temperature:  0.1,
	}

	t.Run("first provider answers", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", Responses: []string{"ok"}}
		secondary := &MockClient{ClientName: "secondary", Responses: []string{"never"}}
		f, _ := newTestFailover(primary, secondary)

		res, err := f.Invoke(context.Background(), req)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if res.Provider != "primary" || res.Content != "ok" || res.Calls != 1 {
			t.Errorf("result = %+v", res)
		}
		if secondary.RequestCount() != 0 {
			t.Error("secondary should not be called")
		}

		sent := primary.Requests()[0]
		if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" || len(sent.Messages[1].Images) != 1 {
			t.Errorf("request messages = %+v", sent.Messages)
		}
		if sent.MaxTokens != 8192 {
			t.Errorf("MaxTokens = %d", sent.MaxTokens)
		}
	})

	t.Run("retries within a provider", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", FailFirst: 1, Responses: []string{"second try"}}
		f, _ := newTestFailover(primary)

		res, err := f.Invoke(context.Background(), req)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if res.Content != "second try" || res.Calls != 2 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("fails over to next provider", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", ShouldFail: true}
		secondary := &MockClient{ClientName: "secondary", Responses: []string{"backup"}}
		f, _ := newTestFailover(primary, secondary)

		res, err := f.Invoke(context.Background(), req)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if res.Provider != "secondary" || res.Content != "backup" {
			t.Errorf("result = %+v", res)
		}
		if primary.RequestCount() != 2 {
			t.Errorf("primary calls = %d, want 2", primary.RequestCount())
		}
		if res.Calls != 3 {
			t.Errorf("Calls = %d, want 3", res.Calls)
		}
	})

	t.Run("empty content counts as failure", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", Responses: []string{"  "}}
		f, _ := newTestFailover(primary)

		_, err := f.Invoke(context.Background(), req)
		if !errors.Is(err, ErrProvidersExhausted) {
			t.Fatalf("err = %v, want exhausted", err)
		}
		var ex *ExhaustedError
		if !errors.As(err, &ex) || !errors.Is(ex.Failures["primary"], errEmptyContent) {
			t.Errorf("failures = %v", err)
		}
	})

	t.Run("non-retryable error skips remaining attempts", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", ShouldFail: true, FailWith: &StatusError{StatusCode: 401}}
		secondary := &MockClient{ClientName: "secondary", Responses: []string{"backup"}}
		f, _ := newTestFailover(primary, secondary)

		res, err := f.Invoke(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if primary.RequestCount() != 1 {
			t.Errorf("primary calls = %d, want 1", primary.RequestCount())
		}
		if res.Provider != "secondary" {
			t.Errorf("Provider = %s", res.Provider)
		}
	})

	t.Run("rate limit drains limiter", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", ShouldFail: true, FailWith: &RateLimitError{Message: "429", RetryAfter: time.Second}}
		f, r := newTestFailover(primary)
		f.attempts = 1

		_, err := f.Invoke(context.Background(), req)
		if !errors.Is(err, ErrProvidersExhausted) {
			t.Fatalf("err = %v", err)
		}
		if r.Limiter("primary").Status().Last429Time.IsZero() {
			t.Error("expected 429 to be recorded")
		}
	})

	t.Run("request provider order wins", func(t *testing.T) {
		primary := NewMockClient(`{"items":[]}`)
		primary.ClientName = "primary"
		secondary := NewMockClient(`{"items":[{"id":"s"}]}`)
		secondary.ClientName = "secondary"
		f, _ := newTestFailover(primary, secondary)

		pinned := *req
		pinned.Providers = []string{"secondary"}
		res, err := f.Invoke(context.Background(), &pinned)
		if err != nil {
			t.Fatal(err)
		}
		if res.Provider != "secondary" || primary.RequestCount() != 0 {
			t.Errorf("provider = %s, primary calls = %d", res.Provider, primary.RequestCount())
		}
	})

	t.Run("no providers", func(t *testing.T) {
		f, _ := newTestFailover()
		if _, err := f.Invoke(context.Background(), req); !errors.Is(err, ErrNoProviders) {
			t.Errorf("err = %v, want ErrNoProviders", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		primary := &MockClient{ClientName: "primary", ShouldFail: true}
		f, _ := newTestFailover(primary)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := f.Invoke(ctx, req); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
