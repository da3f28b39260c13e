package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing. Responses are returned in order;
// the last one repeats once the script runs out.
type MockClient struct {
	// Configurable behavior
	Latency    time.Duration
	ShouldFail bool
	FailFirst  int   // Fail the first N requests
	FailWith   error // Error returned on failure (default: generic error)
	Responses  []string

	// Name override, for registering several mocks side by side.
	ClientName string

	mu           sync.Mutex
	requests     []ChatRequest
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client that answers with responses.
func NewMockClient(responses ...string) *MockClient {
	if len(responses) == 0 {
		responses = []string{`{"items":[]}`}
	}
	return &MockClient{Responses: responses}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	if c.ClientName != "" {
		return c.ClientName
	}
	return MockClientName
}

// Chat returns the next scripted response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  c.Name(),
		ModelUsed: req.Model,
		Attempts:  1,
	}

	if c.ShouldFail || int(count) <= c.FailFirst {
		err := c.FailWith
		if err == nil {
			err = fmt.Errorf("mock client configured to fail")
		}
		return result, result.fail("mock_failure", err, start)
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return result, result.fail("context_cancelled", ctx.Err(), start)
		}
	}

	content := `{"items":[]}`
	if len(c.Responses) > 0 {
		idx := min(int(count)-c.FailFirst-1, len(c.Responses)-1)
		content = c.Responses[idx]
	}

	result.Success = true
	result.Content = content
	for _, m := range req.Messages {
		result.PromptTokens += len(m.Content) / 4
	}
	result.CompletionTokens = len(result.Content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// RequestCount returns the total number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ LLMClient = (*MockClient)(nil)
