package collab

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// VisionClient talks to the external vision-description collaborator.
type VisionClient struct {
	c *client
}

func NewVisionClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *utils.Logger) *VisionClient {
	return &VisionClient{c: newClient(baseURL, apiKey, timeout, retries, logger)}
}

type describeRequest struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
}

type describeResponse struct {
	Description string `json:"description"`
}

func (v *VisionClient) Describe(ctx context.Context, image []byte, contentType string) (string, error) {
	req := describeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		ContentType: contentType,
	}
	var resp describeResponse
	if err := v.c.postJSON(ctx, "/v1/describe", req, &resp); err != nil {
		return "", err
	}
	return resp.Description, nil
}
