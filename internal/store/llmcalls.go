package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackzampolin/takeoff/internal/llmcall"
)

const llmCallColumns = `id, timestamp, latency_ms, document_id, job_id, batch_index, attempt, prompt_key,
	provider, model, temperature, max_tokens, input_tokens, output_tokens, cost_usd,
	item_count, response, success, error`

// SaveLLMCall inserts a call record. It satisfies llmcall.Sink.
func (s *Store) SaveLLMCall(ctx context.Context, c *llmcall.Call) error {
	var batch, temp any
	if c.BatchIndex != nil {
		batch = *c.BatchIndex
	}
	if c.Temperature != nil {
		temp = *c.Temperature
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO llm_calls (`+llmCallColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, formatTime(c.Timestamp), c.LatencyMs, c.DocumentID, c.JobID, batch, c.Attempt, c.PromptKey,
		c.Provider, c.Model, temp, c.MaxTokens, c.InputTokens, c.OutputTokens, c.CostUSD,
		c.ItemCount, c.Response, c.Success, c.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting llm call %s: %w", c.ID, err)
	}
	return nil
}

// ListLLMCalls returns call records matching the filter, newest first.
func (s *Store) ListLLMCalls(ctx context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.DocumentID != "" {
		add("document_id = ?", f.DocumentID)
	}
	if f.JobID != "" {
		add("job_id = ?", f.JobID)
	}
	if f.PromptKey != "" {
		add("prompt_key = ?", f.PromptKey)
	}
	if f.Provider != "" {
		add("provider = ?", f.Provider)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if f.After != nil {
		add("timestamp > ?", formatTime(*f.After))
	}
	if f.Before != nil {
		add("timestamp < ?", formatTime(*f.Before))
	}

	query := `SELECT ` + llmCallColumns + ` FROM llm_calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing llm calls: %w", err)
	}
	defer rows.Close()

	var calls []llmcall.Call
	for rows.Next() {
		var c llmcall.Call
		var ts string
		var batch sql.NullInt64
		var temp sql.NullFloat64
		if err := rows.Scan(&c.ID, &ts, &c.LatencyMs, &c.DocumentID, &c.JobID, &batch, &c.Attempt, &c.PromptKey,
			&c.Provider, &c.Model, &temp, &c.MaxTokens, &c.InputTokens, &c.OutputTokens, &c.CostUSD,
			&c.ItemCount, &c.Response, &c.Success, &c.Error); err != nil {
			return nil, fmt.Errorf("scanning llm call: %w", err)
		}
		if batch.Valid {
			b := int(batch.Int64)
			c.BatchIndex = &b
		}
		if temp.Valid {
			c.Temperature = &temp.Float64
		}
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
