package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// doRequest posts to OpenRouter, retrying transient failures with jittered
// exponential backoff. It returns the number of attempts made.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, orReq *openRouterRequest) (*openRouterResponse, int, error) {
	attempts := 0
	resp, err := retry.DoWithData(
		func() (*openRouterResponse, error) {
			attempts++
			// Vary the payload on retries; identical bodies can hit a cached 413/422.
			if attempts > 1 {
				c.injectNonce(orReq, attempts-1)
			}
			return c.send(ctx, path, orReq)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(max(c.retryDelay/2, time.Millisecond)),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && IsRetryable(err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, attempts, err
	}
	return resp, attempts, nil
}

func (c *OpenRouterClient) send(ctx context.Context, path string, orReq *openRouterRequest) (*openRouterResponse, error) {
	bodyBytes, err := json.Marshal(orReq)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/takeoff")
	req.Header.Set("X-Title", "Takeoff")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Message:    fmt.Sprintf("OpenRouter rate limited: %s", string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: OpenRouterName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if orResp.Error != nil {
		return nil, fmt.Errorf("OpenRouter model error (code %v): %s", orResp.Error.Code, orResp.Error.Message)
	}
	return &orResp, nil
}

// injectNonce appends a unique comment to the last user message text.
func (c *OpenRouterClient) injectNonce(req *openRouterRequest, attempt int) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		comment := fmt.Sprintf("\n<!-- retry_%d_id: %s -->", attempt, uuid.New().String()[:16])
		switch content := req.Messages[i].Content.(type) {
		case string:
			req.Messages[i].Content = content + comment
		case []openRouterContent:
			for j := range content {
				if content[j].Type == "text" {
					content[j].Text += comment
					break
				}
			}
		}
		return
	}
}
