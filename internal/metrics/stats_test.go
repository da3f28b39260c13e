package metrics

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jackzampolin/takeoff/internal/llmcall"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func testCalls() []llmcall.Call {
	return []llmcall.Call{
		{Provider: "openrouter", PromptKey: "analysis.user", Success: true, CostUSD: 0.10, InputTokens: 1000, OutputTokens: 400, ItemCount: 20, LatencyMs: 100},
		{Provider: "openrouter", PromptKey: "analysis.user", Success: true, CostUSD: 0.30, InputTokens: 1000, OutputTokens: 800, ItemCount: 30, LatencyMs: 300},
		{Provider: "openai", PromptKey: "analysis.user", Success: false, LatencyMs: 200},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(testCalls())

	if s.Count != 3 || s.SuccessCount != 2 || s.ErrorCount != 1 {
		t.Errorf("counts = %d/%d/%d", s.Count, s.SuccessCount, s.ErrorCount)
	}
	if !approx(s.TotalCostUSD, 0.40) {
		t.Errorf("TotalCostUSD = %v, want 0.40", s.TotalCostUSD)
	}
	if s.TotalItems != 50 || s.TotalOutputTokens != 1200 {
		t.Errorf("items = %d, output tokens = %d", s.TotalItems, s.TotalOutputTokens)
	}
	if s.LatencyP50 != 200 || s.LatencyMax != 300 {
		t.Errorf("latency p50 = %v, max = %v", s.LatencyP50, s.LatencyMax)
	}

	or := s.ByProvider["openrouter"]
	if or == nil || or.Count != 2 || !approx(or.AvgCostUSD, 0.20) {
		t.Errorf("openrouter = %+v", or)
	}
	if oa := s.ByProvider["openai"]; oa == nil || oa.ErrorCount != 1 {
		t.Errorf("openai = %+v", oa)
	}
	if pk := s.ByPromptKey["analysis.user"]; pk == nil || pk.Count != 3 {
		t.Errorf("by prompt key = %+v", pk)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Count != 0 || s.AvgCostUSD != 0 || len(s.ByProvider) != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 25},
		{100, 40},
	}
	for _, tt := range tests {
		if got := percentile(vals, tt.p); !approx(got, tt.want) {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile([]float64{7}, 95); got != 7 {
		t.Errorf("single value percentile = %v", got)
	}
}

type fakeSource struct {
	calls []llmcall.Call
	err   error
	got   llmcall.QueryFilter
}

func (f *fakeSource) ListLLMCalls(_ context.Context, q llmcall.QueryFilter) ([]llmcall.Call, error) {
	f.got = q
	return f.calls, f.err
}

func TestQuery_Summary(t *testing.T) {
	src := &fakeSource{calls: testCalls()}
	s, err := NewQuery(src).Summary(context.Background(), llmcall.QueryFilter{JobID: "j1"})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Count != 3 {
		t.Errorf("Count = %d", s.Count)
	}
	if src.got.JobID != "j1" || src.got.Limit != MaxCalls {
		t.Errorf("filter = %+v", src.got)
	}

	src.err = errors.New("db down")
	if _, err := NewQuery(src).Summary(context.Background(), llmcall.QueryFilter{}); err == nil {
		t.Error("expected source error")
	}
}
