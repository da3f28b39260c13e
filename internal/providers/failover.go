package providers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

var errEmptyContent = errors.New("provider returned empty content")

// InvokeRequest is one vision analysis call.
type InvokeRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       [][]byte
	MaxTokens    int
	Timeout      time.Duration
	Temperature  float64
	Model        string // Optional override of the provider default
	RequestID    string
	// Providers restricts and orders the providers tried. Empty means the
	// invoker's default order.
	Providers []string
}

// InvokeResult is the content returned by the provider that answered.
type InvokeResult struct {
	Content  string
	Provider string
	Chat     *ChatResult
	Calls    int // Provider calls made, across fail-over
}

// Invoker runs a vision analysis call against some backend.
type Invoker interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)
}

// FailoverConfig configures a Failover invoker.
type FailoverConfig struct {
	Registry *Registry
	// Order returns provider names by priority. Defaults to Registry.List.
	Order func() []string
	// AttemptsPerProvider bounds calls to one provider before moving on.
	AttemptsPerProvider int
	RetryDelay          time.Duration
	Logger              *slog.Logger
}

// Failover tries providers in priority order until one returns non-empty
// content. When all fail it returns an *ExhaustedError.
type Failover struct {
	registry *Registry
	order    func() []string
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewFailover creates a fail-over invoker over the registry's clients.
func NewFailover(cfg FailoverConfig) *Failover {
	if cfg.AttemptsPerProvider <= 0 {
		cfg.AttemptsPerProvider = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Order == nil {
		cfg.Order = cfg.Registry.List
	}
	return &Failover{
		registry: cfg.Registry,
		order:    cfg.Order,
		attempts: cfg.AttemptsPerProvider,
		delay:    cfg.RetryDelay,
		logger:   cfg.Logger,
	}
}

// Invoke sends req to each provider in turn.
func (f *Failover) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	names := req.Providers
	if len(names) == 0 {
		names = f.order()
	}
	if len(names) == 0 {
		return nil, ErrNoProviders
	}

	chatReq := &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt, Images: req.Images},
		},
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Timeout:     req.Timeout,
		RequestID:   req.RequestID,
	}

	failures := make(map[string]error)
	calls := 0
	for _, name := range names {
		client, err := f.registry.Get(name)
		if err != nil {
			failures[name] = err
			continue
		}
		limiter := f.registry.Limiter(name)

		res, err := retry.DoWithData(
			func() (*ChatResult, error) {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return nil, retry.Unrecoverable(err)
					}
				}
				calls++
				res, err := client.Chat(ctx, chatReq)
				if err != nil {
					var rl *RateLimitError
					if errors.As(err, &rl) && limiter != nil {
						limiter.Record429(rl.RetryAfter)
					}
					return nil, err
				}
				if strings.TrimSpace(res.Content) == "" {
					return nil, errEmptyContent
				}
				return res, nil
			},
			retry.Context(ctx),
			retry.Attempts(uint(f.attempts)),
			retry.Delay(f.delay),
			retry.DelayType(retry.FixedDelay),
			retry.RetryIf(func(err error) bool {
				return retry.IsRecoverable(err) && IsRetryable(err)
			}),
			retry.LastErrorOnly(true),
		)
		if err == nil {
			return &InvokeResult{Content: res.Content, Provider: name, Chat: res, Calls: calls}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		failures[name] = err
		f.logger.Warn("LLM provider failed, failing over", "provider", name, "error", err)
	}

	return nil, &ExhaustedError{Failures: failures}
}

var _ Invoker = (*Failover)(nil)
