package llmcall

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/takeoff/internal/providers"
)

// Sink persists call records.
type Sink interface {
	SaveLLMCall(ctx context.Context, call *Call) error
}

// Recorder handles fire-and-forget LLM call recording via a Sink.
// Write failures are logged, never returned.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

// NewRecorder creates a new LLM call recorder. A nil sink disables recording.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record captures an LLM call from its chat result.
func (r *Recorder) Record(ctx context.Context, result *providers.ChatResult, opts RecordOptions) *Call {
	call := FromChatResult(result, opts)
	r.RecordCall(ctx, call)
	return call
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(ctx context.Context, call *Call) {
	if r == nil || r.sink == nil || call == nil {
		return
	}
	// Recording outlives a cancelled request.
	ctx = context.WithoutCancel(ctx)
	if err := r.sink.SaveLLMCall(ctx, call); err != nil {
		r.logger.Warn("failed to record LLM call",
			"call_id", call.ID,
			"provider", call.Provider,
			"error", err)
	}
}
