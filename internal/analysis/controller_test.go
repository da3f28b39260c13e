package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/extract"
	"github.com/jackzampolin/takeoff/internal/llmcall"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/types"
)

type step struct {
	content string
	err     error
}

// scriptedInvoker answers with one step per call, repeating the last.
type scriptedInvoker struct {
	mu    sync.Mutex
	steps []step
	reqs  []providers.InvokeRequest
}

func (s *scriptedInvoker) Invoke(_ context.Context, req *providers.InvokeRequest) (*providers.InvokeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, *req)
	st := s.steps[min(len(s.reqs), len(s.steps))-1]
	if st.err != nil {
		return nil, st.err
	}
	return &providers.InvokeResult{Content: st.content, Provider: "fake"}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	analyses []*types.AnalysisRecord
	items    [][]extract.Item
	issues   []types.Issue
	statuses map[string]types.DocumentStatus
	calls    []*llmcall.Call
	failSave error
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]types.DocumentStatus)}
}

func (f *fakeStore) SaveAnalysis(_ context.Context, a *types.AnalysisRecord, items []extract.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.analyses = append(f.analyses, a)
	f.items = append(f.items, items)
	return nil
}

func (f *fakeStore) SaveIssues(_ context.Context, issues []types.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, issues...)
	return nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, id string, st types.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
	return nil
}

func (f *fakeStore) SaveLLMCall(_ context.Context, c *llmcall.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return nil
}

// itemsJSON returns a payload with n items.
func itemsJSON(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"description":"element %d","quantity":%d,"unit":"EA"}`, i, i+1)
	}
	return `{"items":[` + strings.Join(parts, ",") + `]}`
}

func images(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("page-%d", i+1))
	}
	return out
}

func newTestController(inv providers.Invoker, store *fakeStore) *Controller {
	return NewController(Config{
		Invoker:           inv,
		Store:             store,
		Recorder:          llmcall.NewRecorder(store, nil),
		ExhaustionBackoff: time.Millisecond,
	})
}

func exhausted() error {
	return &providers.ExhaustedError{Failures: map[string]error{"openrouter": errors.New("down")}}
}

func TestThreshold(t *testing.T) {
	c := NewController(Config{})
	tests := []struct{ images, want int }{
		{1, 20},
		{5, 20},
		{6, 24},
		{10, 40},
	}
	for _, tt := range tests {
		if got := c.Threshold(tt.images); got != tt.want {
			t.Errorf("Threshold(%d) = %d, want %d", tt.images, got, tt.want)
		}
	}
}

func TestController_Run(t *testing.T) {
	req := Request{DocumentID: "doc-1", Mode: types.ModeTakeoff, Pages: []int{1, 2, 3, 4, 5}, Images: images(5)}

	t.Run("short-circuits at threshold", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(25)}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 1 || out.ItemCount() != 25 || out.Attempts != 1 || out.Reason != "" {
			t.Errorf("calls = %d, items = %d, attempts = %d, reason = %q", len(inv.reqs), out.ItemCount(), out.Attempts, out.Reason)
		}
		if inv.reqs[0].MaxTokens != DefaultInitialMaxTokens || inv.reqs[0].Timeout != DefaultCallTimeout {
			t.Errorf("first request = %+v", inv.reqs[0])
		}
	})

	t.Run("below threshold retries with reinforced prompt", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(15)}, {content: itemsJSON(20)}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 2 {
			t.Fatalf("calls = %d, want 2", len(inv.reqs))
		}
		first, second := inv.reqs[0], inv.reqs[1]
		if !strings.HasPrefix(second.UserPrompt, first.UserPrompt) || len(second.UserPrompt) <= len(first.UserPrompt) {
			t.Error("second prompt should extend the first")
		}
		if !strings.Contains(second.UserPrompt, "only 15 items") {
			t.Errorf("reinforcement missing shortfall: %q", second.UserPrompt)
		}
		if second.MaxTokens != 12288 {
			t.Errorf("second MaxTokens = %d, want 12288", second.MaxTokens)
		}
		if out.ItemCount() != 20 || out.Attempts != 2 {
			t.Errorf("items = %d, attempts = %d", out.ItemCount(), out.Attempts)
		}
	})

	t.Run("keeps the best attempt", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(5)}, {content: itemsJSON(12)}, {content: itemsJSON(8)}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 3 {
			t.Fatalf("calls = %d, want 3", len(inv.reqs))
		}
		if out.ItemCount() != 12 {
			t.Errorf("items = %d, want 12", out.ItemCount())
		}
		if out.Attempts != 3 || !strings.Contains(out.Reason, "3 attempts") || !strings.Contains(out.Reason, "threshold of 20") {
			t.Errorf("attempts = %d, reason = %q", out.Attempts, out.Reason)
		}
		if inv.reqs[2].MaxTokens != 18432 {
			t.Errorf("third MaxTokens = %d, want 18432", inv.reqs[2].MaxTokens)
		}
	})

	t.Run("equal counts keep the earlier attempt", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{
			{content: `{"items":[{"description":"first"}]}`},
			{content: `{"items":[{"description":"second"}]}`},
		}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if out.Payload.Items[0].Description() != "first" {
			t.Errorf("kept %q, want first", out.Payload.Items[0].Description())
		}
	})

	t.Run("token budget is capped", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(1)}}}
		c := NewController(Config{Invoker: inv, InitialMaxTokens: 20000, MaxTokensCap: 25000})
		if _, err := c.Run(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		got := []int{inv.reqs[0].MaxTokens, inv.reqs[1].MaxTokens, inv.reqs[2].MaxTokens}
		if got[0] != 20000 || got[1] != 25000 || got[2] != 25000 {
			t.Errorf("MaxTokens = %v", got)
		}
	})

	t.Run("backs off after provider exhaustion", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{err: exhausted()}, {content: itemsJSON(20)}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 2 || out.Attempts != 2 {
			t.Fatalf("calls = %d, attempts = %d", len(inv.reqs), out.Attempts)
		}
		if inv.reqs[1].UserPrompt != inv.reqs[0].UserPrompt || inv.reqs[1].MaxTokens != inv.reqs[0].MaxTokens {
			t.Error("retry after exhaustion should repeat the same request")
		}
	})

	t.Run("exhaustion on final attempt propagates", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{err: exhausted()}}}
		_, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if !errors.Is(err, providers.ErrProvidersExhausted) {
			t.Fatalf("err = %v, want ErrProvidersExhausted", err)
		}
		if len(inv.reqs) != DefaultMaxAttempts {
			t.Errorf("calls = %d, want %d", len(inv.reqs), DefaultMaxAttempts)
		}
	})

	t.Run("failure after a result keeps the result", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(7)}, {err: exhausted()}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if out.ItemCount() != 7 || out.Reason == "" {
			t.Errorf("items = %d, reason = %q", out.ItemCount(), out.Reason)
		}
		if len(inv.reqs) != DefaultMaxAttempts || out.Attempts != DefaultMaxAttempts {
			t.Errorf("calls = %d, attempts = %d, want %d", len(inv.reqs), out.Attempts, DefaultMaxAttempts)
		}
	})

	t.Run("exhaustion after a result still uses remaining attempts", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(5)}, {err: exhausted()}, {content: itemsJSON(25)}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 3 {
			t.Fatalf("calls = %d, want 3", len(inv.reqs))
		}
		if out.ItemCount() != 25 || out.Attempts != 3 || out.Reason != "" {
			t.Errorf("items = %d, attempts = %d, reason = %q", out.ItemCount(), out.Attempts, out.Reason)
		}
		if inv.reqs[2].UserPrompt != inv.reqs[1].UserPrompt {
			t.Error("retry after exhaustion should repeat the reinforced request")
		}
	})

	t.Run("non-exhaustion failure after a result keeps the result", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(6)}, {err: providers.ErrNoProviders}}}
		out, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if len(inv.reqs) != 2 || out.ItemCount() != 6 || out.Reason == "" {
			t.Errorf("calls = %d, items = %d, reason = %q", len(inv.reqs), out.ItemCount(), out.Reason)
		}
	})

	t.Run("other errors propagate immediately", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{err: providers.ErrNoProviders}}}
		_, err := newTestController(inv, newFakeStore()).Run(context.Background(), req)
		if !errors.Is(err, providers.ErrNoProviders) || len(inv.reqs) != 1 {
			t.Errorf("err = %v, calls = %d", err, len(inv.reqs))
		}
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		inv := &scriptedInvoker{steps: []step{{err: exhausted()}}}
		c := NewController(Config{Invoker: inv, ExhaustionBackoff: time.Hour})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := c.Run(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	})

	t.Run("no images", func(t *testing.T) {
		_, err := newTestController(&scriptedInvoker{}, newFakeStore()).Run(context.Background(), Request{})
		if !errors.Is(err, ErrNoImages) {
			t.Errorf("err = %v, want ErrNoImages", err)
		}
	})

	t.Run("model policy reaches the invoker", func(t *testing.T) {
		temp := 0.4
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(30)}}}
		policyReq := req
		policyReq.Policy = types.ModelPolicy{Providers: []string{"openai"}, Model: "gpt-4o", Temperature: &temp}
		if _, err := newTestController(inv, newFakeStore()).Run(context.Background(), policyReq); err != nil {
			t.Fatal(err)
		}
		got := inv.reqs[0]
		if got.Model != "gpt-4o" || got.Temperature != 0.4 || len(got.Providers) != 1 || got.Providers[0] != "openai" {
			t.Errorf("request = %+v", got)
		}
	})

	t.Run("records every invocation", func(t *testing.T) {
		store := newFakeStore()
		inv := &scriptedInvoker{steps: []step{{err: exhausted()}, {content: itemsJSON(4)}, {content: itemsJSON(21)}}}
		if _, err := newTestController(inv, store).Run(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		if len(store.calls) != 3 {
			t.Fatalf("recorded calls = %d, want 3", len(store.calls))
		}
		if store.calls[0].Success || store.calls[0].Attempt != 1 {
			t.Errorf("first call = %+v", store.calls[0])
		}
		if !store.calls[2].Success || store.calls[2].ItemCount != 21 || store.calls[2].PromptKey != UserPromptKey {
			t.Errorf("last call = %+v", store.calls[2])
		}
	})
}

func TestController_Analyze(t *testing.T) {
	req := Request{DocumentID: "doc-1", Images: images(1)}

	t.Run("persists items issues and status", func(t *testing.T) {
		store := newFakeStore()
		content := `{"items":[
			{"id":"keep-me","description":"door","confidence":0.6},
			{"description":"window","confidence":1}
		],"quality_analysis":{"risk_flags":[
			{"severity":"major","category":"structure","description":"beam undersized","page":2},
			{"severity":"note","description":"check scale"},
			{"severity":"medium","category":"electrical"},
			{"severity":"low"}
		]}}`
		inv := &scriptedInvoker{steps: []step{{content: content}}}
		c := NewController(Config{Invoker: inv, Store: store, MinItems: 2, ItemsPerImage: 1})
		out, err := c.Analyze(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}

		if len(store.analyses) != 1 {
			t.Fatalf("analyses = %d", len(store.analyses))
		}
		rec := store.analyses[0]
		if rec.ID != out.AnalysisID || rec.ItemCount != 2 || math.Abs(rec.MeanConfidence-0.8) > 1e-9 {
			t.Errorf("record = %+v", rec)
		}
		items := store.items[0]
		if items[0].ID() != "keep-me" || items[1].ID() == "" {
			t.Errorf("item ids = %q, %q", items[0].ID(), items[1].ID())
		}

		if len(store.issues) != 4 {
			t.Fatalf("issues = %d, want 4", len(store.issues))
		}
		if store.issues[0].Severity != types.SeverityHigh || *store.issues[0].Page != 2 {
			t.Errorf("issue 0 = %+v", store.issues[0])
		}
		if store.issues[1].Severity != types.SeverityInfo || store.issues[1].Page != nil {
			t.Errorf("issue 1 = %+v", store.issues[1])
		}
		if store.issues[2].Description != "electrical" || store.issues[2].Category != "electrical" {
			t.Errorf("issue 2 = %+v", store.issues[2])
		}
		if store.issues[3].Description != `{"severity":"low"}` || store.issues[3].Severity != types.SeverityLow {
			t.Errorf("issue 3 = %+v", store.issues[3])
		}

		st := store.statuses["doc-1"]
		if st.Status != types.AnalysisCompleted || st.AnalysisID != rec.ID || st.IssueCount != 4 {
			t.Errorf("status = %+v", st)
		}
	})

	t.Run("no usable items marks document failed", func(t *testing.T) {
		store := newFakeStore()
		inv := &scriptedInvoker{steps: []step{{content: "sorry, I cannot read these plans"}}}
		_, err := newTestController(inv, store).Analyze(context.Background(), req)
		if !errors.Is(err, ErrNoUsableItems) {
			t.Fatalf("err = %v, want ErrNoUsableItems", err)
		}
		if store.statuses["doc-1"].Status != types.AnalysisFailed || len(store.analyses) != 0 {
			t.Errorf("status = %+v, analyses = %d", store.statuses["doc-1"], len(store.analyses))
		}
	})

	t.Run("exhaustion marks document failed", func(t *testing.T) {
		store := newFakeStore()
		inv := &scriptedInvoker{steps: []step{{err: exhausted()}}}
		if _, err := newTestController(inv, store).Analyze(context.Background(), req); err == nil {
			t.Fatal("expected error")
		}
		if store.statuses["doc-1"].Status != types.AnalysisFailed {
			t.Errorf("status = %+v", store.statuses["doc-1"])
		}
	})

	t.Run("persistence errors are not returned", func(t *testing.T) {
		store := newFakeStore()
		store.failSave = errors.New("disk full")
		inv := &scriptedInvoker{steps: []step{{content: itemsJSON(20)}}}
		out, err := newTestController(inv, store).Analyze(context.Background(), req)
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
		if out.ItemCount() != 20 || store.statuses["doc-1"].Status != types.AnalysisCompleted {
			t.Errorf("items = %d, status = %+v", out.ItemCount(), store.statuses["doc-1"])
		}
	})
}

func TestAttemptContext(t *testing.T) {
	a := AttemptContext{Number: 1, Prompt: "count", MaxTokens: 1000}
	observed := a.Observe("openrouter", 3)
	next := observed.Next("more", 1.5, 1400)

	if a.Provider != "" || a.ItemCount != 0 {
		t.Error("Observe modified the receiver")
	}
	if observed.Prompt != "count" || observed.MaxTokens != 1000 {
		t.Error("Next modified the receiver")
	}
	if next.Number != 2 || next.Prompt != "count\n\nmore" || next.MaxTokens != 1400 {
		t.Errorf("next = %+v", next)
	}
	if next.Provider != "" || next.ItemCount != 0 {
		t.Error("next attempt should start without a result")
	}
}

func TestBetter(t *testing.T) {
	five := &Outcome{Payload: extract.AnalysisPayload{Items: make([]extract.Item, 5)}}
	twelve := &Outcome{Payload: extract.AnalysisPayload{Items: make([]extract.Item, 12)}}
	otherFive := &Outcome{Payload: extract.AnalysisPayload{Items: make([]extract.Item, 5)}}

	if !better(five, nil) || !better(twelve, five) || better(five, twelve) || better(otherFive, five) || better(nil, five) {
		t.Error("better() should prefer strictly greater item counts")
	}
}

func TestPrompts(t *testing.T) {
	tests := []struct {
		pages []int
		want  string
	}{
		{nil, "(all)"},
		{[]int{4}, "4"},
		{[]int{1, 2, 3, 7, 9, 10}, "1-3, 7, 9-10"},
	}
	for _, tt := range tests {
		if got := pageList(tt.pages); got != tt.want {
			t.Errorf("pageList(%v) = %q, want %q", tt.pages, got, tt.want)
		}
	}

	if p := UserPrompt(types.ModeQuality, []int{2, 3}, 2); !strings.Contains(p, "quality problems") || !strings.Contains(p, "2-3") {
		t.Errorf("quality prompt = %q", p)
	}
	if p := UserPrompt(types.ModeTakeoff, []int{1}, 1); !strings.Contains(p, "quantity takeoff") {
		t.Errorf("takeoff prompt = %q", p)
	}
	if c := ReinforcementClause(15, 20, 5); !strings.Contains(c, "only 15 items") || !strings.Contains(c, "at least 20") {
		t.Errorf("clause = %q", c)
	}
}

func TestMeanConfidence(t *testing.T) {
	items := []extract.Item{{"confidence": 0.5}, {"confidence": "0.7"}, {}}
	got := MeanConfidence(items)
	want := (0.5 + 0.7 + DefaultConfidence) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanConfidence() = %v, want %v", got, want)
	}
	if MeanConfidence(nil) != 0 {
		t.Error("MeanConfidence(nil) should be 0")
	}
}
