// Package metrics aggregates recorded LLM calls into cost, token and latency
// statistics.
package metrics

import (
	"context"
	"sort"

	"github.com/jackzampolin/takeoff/internal/llmcall"
)

// MaxCalls bounds how many calls one summary reads.
const MaxCalls = 10000

// Source lists recorded calls.
type Source interface {
	ListLLMCalls(ctx context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error)
}

// Stats summarizes a set of calls.
type Stats struct {
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgCostUSD   float64 `json:"avg_cost_usd"`

	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	AvgOutputTokens   float64 `json:"avg_output_tokens"`

	TotalItems int `json:"total_items"`

	// Latency in milliseconds
	LatencyP50 float64 `json:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms"`
	LatencyMax float64 `json:"latency_max_ms"`
}

// Summary holds overall stats plus breakdowns.
type Summary struct {
	Stats
	ByProvider  map[string]*Stats `json:"by_provider"`
	ByPromptKey map[string]*Stats `json:"by_prompt_key"`
}

// Query computes summaries over a call source.
type Query struct {
	source Source
}

// NewQuery creates a Query.
func NewQuery(source Source) *Query {
	return &Query{source: source}
}

// Summary returns stats for calls matching f. A zero limit reads up to
// MaxCalls calls.
func (q *Query) Summary(ctx context.Context, f llmcall.QueryFilter) (*Summary, error) {
	if f.Limit <= 0 || f.Limit > MaxCalls {
		f.Limit = MaxCalls
	}
	calls, err := q.source.ListLLMCalls(ctx, f)
	if err != nil {
		return nil, err
	}
	return Summarize(calls), nil
}

// Summarize computes a Summary from calls.
func Summarize(calls []llmcall.Call) *Summary {
	s := &Summary{
		Stats:       *compute(calls),
		ByProvider:  make(map[string]*Stats),
		ByPromptKey: make(map[string]*Stats),
	}
	byProvider := make(map[string][]llmcall.Call)
	byPrompt := make(map[string][]llmcall.Call)
	for _, c := range calls {
		byProvider[c.Provider] = append(byProvider[c.Provider], c)
		byPrompt[c.PromptKey] = append(byPrompt[c.PromptKey], c)
	}
	for k, cs := range byProvider {
		s.ByProvider[k] = compute(cs)
	}
	for k, cs := range byPrompt {
		s.ByPromptKey[k] = compute(cs)
	}
	return s
}

func compute(calls []llmcall.Call) *Stats {
	st := &Stats{Count: len(calls)}
	if len(calls) == 0 {
		return st
	}

	latencies := make([]float64, 0, len(calls))
	for _, c := range calls {
		if c.Success {
			st.SuccessCount++
		} else {
			st.ErrorCount++
		}
		st.TotalCostUSD += c.CostUSD
		st.TotalInputTokens += c.InputTokens
		st.TotalOutputTokens += c.OutputTokens
		st.TotalItems += c.ItemCount
		if c.LatencyMs > 0 {
			latencies = append(latencies, float64(c.LatencyMs))
		}
	}

	n := float64(st.Count)
	st.AvgCostUSD = st.TotalCostUSD / n
	st.AvgOutputTokens = float64(st.TotalOutputTokens) / n

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		st.LatencyP50 = percentile(latencies, 50)
		st.LatencyP95 = percentile(latencies, 95)
		st.LatencyMax = latencies[len(latencies)-1]
	}
	return st
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
