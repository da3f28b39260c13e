// Package llmcall provides LLM call recording and querying for traceability.
// Every vision analysis call is recorded with its prompt key, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/takeoff/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	DocumentID string `json:"document_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	BatchIndex *int   `json:"batch_index,omitempty"`
	Attempt    int    `json:"attempt"`

	PromptKey string `json:"prompt_key"`

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`

	// Usage
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	// Outcome
	ItemCount int    `json:"item_count"`
	Response  string `json:"response"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	DocumentID string
	JobID      string
	BatchIndex *int
	Attempt    int
	PromptKey  string
	MaxTokens  int

	// Pointer to distinguish "not set" from "set to 0"
	Temperature *float64
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := newCall(opts)
	call.LatencyMs = int(result.ExecutionTime.Milliseconds())
	call.Provider = result.Provider
	call.Model = result.ModelUsed
	call.InputTokens = result.PromptTokens
	call.OutputTokens = result.CompletionTokens
	call.CostUSD = result.CostUSD
	call.Response = result.Content
	call.Success = result.Success
	if !result.Success {
		call.Error = result.ErrorMessage
	}
	return call
}

// FromError creates a failed Call for an invocation that produced no result,
// such as provider exhaustion.
func FromError(err error, latency time.Duration, opts RecordOptions) *Call {
	call := newCall(opts)
	call.LatencyMs = int(latency.Milliseconds())
	if err != nil {
		call.Error = err.Error()
	}
	return call
}

func newCall(opts RecordOptions) *Call {
	return &Call{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		DocumentID:  opts.DocumentID,
		JobID:       opts.JobID,
		BatchIndex:  opts.BatchIndex,
		Attempt:     opts.Attempt,
		PromptKey:   opts.PromptKey,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	DocumentID string
	JobID      string
	PromptKey  string
	Provider   string
	Success    *bool
	After      *time.Time
	Before     *time.Time
	Limit      int
	Offset     int
}
