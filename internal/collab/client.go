package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// client is the shared HTTP plumbing for all collaborator calls: bounded
// per-call timeout plus a small retry budget with fixed backoff. Collaborator
// endpoints are simple JSON-over-POST services.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries int
	backoff time.Duration
	logger  *utils.Logger
}

func newClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *utils.Logger) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		backoff: 2 * time.Second,
		logger:  logger,
	}
}

// postJSON sends the request and decodes the response body into out,
// retrying transient failures up to the retry budget.
func (c *client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			c.logger.Warn("Retrying collaborator call", "path", path, "attempt", attempt)
		}

		lastErr = c.doOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("collaborator call %s exhausted retries: %w", path, lastErr)
}

func (c *client) doOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Collaborator returned error", "path", path, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
