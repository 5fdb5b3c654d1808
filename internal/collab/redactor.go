package collab

import (
	"context"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// RedactorClient talks to the external sanitization collaborator. The
// collaborator contract: non-sensitive content is never altered, and the call
// is idempotent over its own output.
type RedactorClient struct {
	c *client
}

func NewRedactorClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *utils.Logger) *RedactorClient {
	return &RedactorClient{c: newClient(baseURL, apiKey, timeout, retries, logger)}
}

type redactRequest struct {
	Text       string `json:"text"`
	TrustLevel string `json:"target_trust_level"`
}

type redactResponse struct {
	RedactedText   string `json:"redacted_text"`
	RedactionCount int    `json:"redaction_count"`
}

func (r *RedactorClient) Redact(ctx context.Context, text string, trust models.TrustLevel) (string, int, error) {
	var resp redactResponse
	if err := r.c.postJSON(ctx, "/v1/redact", redactRequest{Text: text, TrustLevel: string(trust)}, &resp); err != nil {
		return "", 0, err
	}
	return resp.RedactedText, resp.RedactionCount, nil
}
