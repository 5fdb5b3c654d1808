package collab

import (
	"context"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// SummarizerClient talks to the external text-summarization collaborator.
// Independent chunk calls carry no ordering guarantee; the caller combines
// chunk results before requesting a final reduction.
type SummarizerClient struct {
	c *client
}

func NewSummarizerClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *utils.Logger) *SummarizerClient {
	return &SummarizerClient{c: newClient(baseURL, apiKey, timeout, retries, logger)}
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (s *SummarizerClient) Summarize(ctx context.Context, text string) (string, error) {
	var resp summarizeResponse
	if err := s.c.postJSON(ctx, "/v1/summarize", summarizeRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}
