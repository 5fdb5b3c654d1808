package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

func testLogger() *utils.Logger {
	return utils.NewLogger("error")
}

func TestSummarizerClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/summarize", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req summarizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "long document", req.Text)

		json.NewEncoder(w).Encode(summarizeResponse{Summary: "short"})
	}))
	defer srv.Close()

	c := NewSummarizerClient(srv.URL, "test-key", time.Second, 0, testLogger())
	got, err := c.Summarize(context.Background(), "long document")
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestPostJSONRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(summarizeResponse{Summary: "eventually"})
	}))
	defer srv.Close()

	c := NewSummarizerClient(srv.URL, "", time.Second, 2, testLogger())
	c.c.backoff = time.Millisecond

	got, err := c.Summarize(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "eventually", got)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPostJSONExhaustsRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSummarizerClient(srv.URL, "", time.Second, 2, testLogger())
	c.c.backoff = time.Millisecond

	_, err := c.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted retries")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPostJSONRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewSummarizerClient(srv.URL, "", time.Second, 5, testLogger())
	c.c.backoff = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Summarize(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedactorClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req redactRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, string(models.TrustExternallyShared), req.TrustLevel)

		json.NewEncoder(w).Encode(redactResponse{RedactedText: "clean", RedactionCount: 4})
	}))
	defer srv.Close()

	c := NewRedactorClient(srv.URL, "", time.Second, 0, testLogger())
	text, count, err := c.Redact(context.Background(), "dirty", models.TrustExternallyShared)
	require.NoError(t, err)
	assert.Equal(t, "clean", text)
	assert.Equal(t, 4, count)
}

func TestVisionClientEncodesImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req describeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/png", req.ContentType)
		assert.NotEmpty(t, req.ImageBase64)

		json.NewEncoder(w).Encode(describeResponse{Description: "a dialog"})
	}))
	defer srv.Close()

	c := NewVisionClient(srv.URL, "", time.Second, 0, testLogger())
	got, err := c.Describe(context.Background(), []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "a dialog", got)
}
