// Package analysis runs threshold-driven vision analysis of a page set.
//
// A Controller invokes the LLM, recovers a payload from its output with the
// extract engine and checks the item count against a threshold derived from
// the number of images. Sparse answers are retried with a reinforced prompt
// and a larger token budget; the richest attempt is kept and persisted even
// when no attempt reaches the threshold.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/llmcall"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/types"
)

// Defaults
const (
	DefaultMinItems          = 20
	DefaultItemsPerImage     = 4
	DefaultMaxAttempts       = 3
	DefaultInitialMaxTokens  = 8192
	DefaultMaxTokensCap      = 32000
	DefaultTokenGrowth       = 1.5
	DefaultCallTimeout       = 180 * time.Second
	DefaultTemperature       = 0.1
	DefaultExhaustionBackoff = 5 * time.Second
)

// ErrNoImages is returned when a request carries no page images.
var ErrNoImages = errors.New("no page images to analyze")

// Config configures a Controller.
type Config struct {
	Invoker  providers.Invoker
	Store    Store
	Recorder *llmcall.Recorder
	Logger   *slog.Logger

	MinItems          int
	ItemsPerImage     int
	MaxAttempts       int
	InitialMaxTokens  int
	MaxTokensCap      int
	TokenGrowth       float64
	CallTimeout       time.Duration
	Temperature       float64
	ExhaustionBackoff time.Duration
}

// Request describes one page-set analysis.
type Request struct {
	DocumentID string
	JobID      string
	BatchIndex *int
	Mode       types.JobMode
	Pages      []int // Page numbers, for the prompt
	Images     [][]byte
	Policy     types.ModelPolicy
}

// Outcome is the retained result of a Run.
type Outcome struct {
	Payload   extract.AnalysisPayload `json:"payload"`
	Provider  string                  `json:"provider"`
	Attempts  int                     `json:"attempts"`
	Threshold int                     `json:"threshold"`
	Repaired  bool                    `json:"repaired"`
	Notes     string                  `json:"notes,omitempty"`
	// Reason is set when the outcome is below threshold.
	Reason string `json:"reason,omitempty"`
	// AnalysisID is set once the outcome has been persisted.
	AnalysisID string `json:"analysisId,omitempty"`
}

// ItemCount returns the number of items in the payload.
func (o *Outcome) ItemCount() int {
	if o == nil {
		return 0
	}
	return len(o.Payload.Items)
}

// Controller drives the retry loop for one page set at a time. It holds no
// per-run state and is safe for concurrent use.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// NewController creates a controller, applying defaults for unset limits.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinItems <= 0 {
		cfg.MinItems = DefaultMinItems
	}
	if cfg.ItemsPerImage <= 0 {
		cfg.ItemsPerImage = DefaultItemsPerImage
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialMaxTokens <= 0 {
		cfg.InitialMaxTokens = DefaultInitialMaxTokens
	}
	if cfg.MaxTokensCap < cfg.InitialMaxTokens {
		cfg.MaxTokensCap = max(DefaultMaxTokensCap, cfg.InitialMaxTokens)
	}
	if cfg.TokenGrowth <= 1 {
		cfg.TokenGrowth = DefaultTokenGrowth
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ExhaustionBackoff < 0 {
		cfg.ExhaustionBackoff = 0
	}
	return &Controller{cfg: cfg, logger: cfg.Logger}
}

// Threshold returns the minimum acceptable item count for imageCount images.
func (c *Controller) Threshold(imageCount int) int {
	return Threshold(c.cfg.MinItems, c.cfg.ItemsPerImage, imageCount)
}

// Run performs the retry loop and returns the best outcome. It persists
// nothing. An error is returned only when no attempt produced a result.
func (c *Controller) Run(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}
	threshold := c.Threshold(len(req.Images))
	temperature := c.cfg.Temperature
	if req.Policy.Temperature != nil {
		temperature = *req.Policy.Temperature
	}
	logger := c.logger.With("document_id", req.DocumentID, "job_id", req.JobID, "threshold", threshold)

	attempt := AttemptContext{
		Number:    1,
		Prompt:    UserPrompt(req.Mode, req.Pages, len(req.Images)),
		MaxTokens: c.cfg.InitialMaxTokens,
	}
	var best *Outcome

	for {
		res, err := c.invoke(ctx, req, attempt, temperature)
		if err != nil {
			if errors.Is(err, providers.ErrProvidersExhausted) && attempt.Number < c.cfg.MaxAttempts {
				logger.Warn("providers exhausted, backing off",
					"attempt", attempt.Number, "backoff", c.cfg.ExhaustionBackoff, "error", err)
				if err := sleep(ctx, c.cfg.ExhaustionBackoff); err != nil {
					return nil, err
				}
				attempt = attempt.Retry()
				continue
			}
			if best != nil {
				logger.Warn("analysis attempt failed, keeping best result",
					"attempt", attempt.Number, "best_items", best.ItemCount(), "error", err)
				break
			}
			return nil, fmt.Errorf("analysis attempt %d: %w", attempt.Number, err)
		}

		ex := extract.Extract(res.Content)
		attempt = attempt.Observe(res.Provider, len(ex.Items))
		current := &Outcome{
			Payload:   ex.AnalysisPayload,
			Provider:  res.Provider,
			Attempts:  attempt.Number,
			Threshold: threshold,
			Repaired:  ex.Repaired,
			Notes:     ex.Notes,
		}
		c.recordItems(ctx, req, attempt, res, temperature)

		if attempt.ItemCount >= threshold {
			logger.Info("analysis reached threshold",
				"attempt", attempt.Number, "items", attempt.ItemCount, "provider", res.Provider)
			return current, nil
		}
		if better(current, best) {
			best = current
		}
		if attempt.Number >= c.cfg.MaxAttempts {
			break
		}
		logger.Info("analysis below threshold, reinforcing prompt",
			"attempt", attempt.Number, "items", attempt.ItemCount, "max_tokens", attempt.MaxTokens)
		attempt = attempt.Next(
			ReinforcementClause(attempt.ItemCount, threshold, len(req.Images)),
			c.cfg.TokenGrowth,
			c.cfg.MaxTokensCap,
		)
	}

	best.Attempts = attempt.Number
	best.Reason = fmt.Sprintf("best of %d attempts returned %d items, below threshold of %d",
		attempt.Number, best.ItemCount(), threshold)
	logger.Warn("analysis below threshold after all attempts",
		"attempts", attempt.Number, "items", best.ItemCount())
	return best, nil
}

// Analyze runs the retry loop and persists the result. When no attempt
// produced a result the document is marked failed.
func (c *Controller) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	out, err := c.Run(ctx, req)
	if err != nil {
		c.markFailed(ctx, req.DocumentID)
		return nil, err
	}
	if _, err := c.Persist(ctx, req.DocumentID, req.JobID, out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Controller) invoke(ctx context.Context, req Request, attempt AttemptContext, temperature float64) (*providers.InvokeResult, error) {
	if c.cfg.Invoker == nil {
		return nil, providers.ErrNoProviders
	}
	start := time.Now()
	res, err := c.cfg.Invoker.Invoke(ctx, &providers.InvokeRequest{
		SystemPrompt: SystemPrompt(),
		UserPrompt:   attempt.Prompt,
		Images:       req.Images,
		MaxTokens:    attempt.MaxTokens,
		Timeout:      c.cfg.CallTimeout,
		Temperature:  temperature,
		Model:        req.Policy.Model,
		Providers:    req.Policy.Providers,
	})
	if err != nil {
		c.cfg.Recorder.RecordCall(ctx, llmcall.FromError(err, time.Since(start), c.recordOptions(req, attempt, temperature)))
		return nil, err
	}
	return res, nil
}

func (c *Controller) recordItems(ctx context.Context, req Request, attempt AttemptContext, res *providers.InvokeResult, temperature float64) {
	opts := c.recordOptions(req, attempt, temperature)
	call := llmcall.FromChatResult(res.Chat, opts)
	if call == nil {
		call = llmcall.FromError(nil, 0, opts)
		call.Provider = res.Provider
		call.Response = res.Content
		call.Success = true
	}
	call.ItemCount = attempt.ItemCount
	c.cfg.Recorder.RecordCall(ctx, call)
}

func (c *Controller) recordOptions(req Request, attempt AttemptContext, temperature float64) llmcall.RecordOptions {
	return llmcall.RecordOptions{
		DocumentID:  req.DocumentID,
		JobID:       req.JobID,
		BatchIndex:  req.BatchIndex,
		Attempt:     attempt.Number,
		PromptKey:   UserPromptKey,
		MaxTokens:   attempt.MaxTokens,
		Temperature: &temperature,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
