package packager

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

type fakeArchive struct {
	mu     sync.Mutex
	stored map[string][]byte
	done   chan struct{}
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{stored: make(map[string][]byte), done: make(chan struct{}, 8)}
}

func (f *fakeArchive) Store(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	f.stored[key] = data
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeArchive) Retrieve(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[key], nil
}

func testSubmission() *models.RawSubmission {
	payload := []byte("raw artifact bytes")
	return &models.RawSubmission{
		ID:           "sub-pkg",
		Payload:      payload,
		DeclaredName: "worker.log",
		DeclaredMIME: "text/plain",
		SizeBytes:    int64(len(payload)),
	}
}

func TestPackageAssemblesOutput(t *testing.T) {
	archive := newFakeArchive()
	p := New(archive, 500, utils.NewLogger("error"))

	cls := models.ClassificationResult{SemanticType: models.TypeLogEvents, ConfidenceTier: models.TierStrong, Confidence: 0.9}
	res := &models.ExtractionResult{Method: "crime_scene", Summary: "worst line", FullExtract: "full window", Quality: models.QualityHigh}
	started := time.Now().Add(-20 * time.Millisecond)

	out := p.Package(testSubmission(), cls, res, true, 2, started)

	require.NotEmpty(t, out.ID)
	assert.Equal(t, "sub-pkg", out.SubmissionID)
	assert.Equal(t, cls, out.Classification)
	assert.True(t, out.SanitizationApplied)
	assert.Equal(t, 2, out.RedactionCount)
	assert.Equal(t, "submissions/sub-pkg/worker.log", out.StorageReference)
	assert.GreaterOrEqual(t, out.ProcessingTimeMS, int64(20))
	assert.False(t, out.CreatedAt.IsZero())

	select {
	case <-archive.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background archival never ran")
	}
	data, err := archive.Retrieve(context.Background(), out.StorageReference)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw artifact bytes"), data)
}

func TestPackageBoundsSummary(t *testing.T) {
	archive := newFakeArchive()
	p := New(archive, 100, utils.NewLogger("error"))

	res := &models.ExtractionResult{
		Summary:     strings.Repeat("a", 60) + strings.Repeat("b", 60),
		FullExtract: "extract",
	}

	out := p.Package(testSubmission(), models.ClassificationResult{}, res, false, 0, time.Now())

	assert.LessOrEqual(t, len(out.Extraction.Summary), 100)
	assert.Contains(t, out.Extraction.Summary, " ... ")
	assert.True(t, strings.HasPrefix(out.Extraction.Summary, "aaa"))
	assert.True(t, strings.HasSuffix(out.Extraction.Summary, "bbb"))
}

func TestPackageSummaryFallsBackToExtract(t *testing.T) {
	archive := newFakeArchive()
	p := New(archive, 500, utils.NewLogger("error"))

	res := &models.ExtractionResult{Summary: "", FullExtract: "the only content"}

	out := p.Package(testSubmission(), models.ClassificationResult{}, res, false, 0, time.Now())

	assert.Equal(t, "the only content", out.Extraction.Summary)
}

func TestPackageComputesCompressionRatio(t *testing.T) {
	archive := newFakeArchive()
	p := New(archive, 500, utils.NewLogger("error"))

	sub := testSubmission() // 18 raw bytes
	res := &models.ExtractionResult{Summary: "s", FullExtract: "123456789"}

	out := p.Package(sub, models.ClassificationResult{}, res, false, 0, time.Now())

	assert.InDelta(t, 0.5, out.Extraction.CompressionRatio, 1e-9)
}

func TestTruncateHeadTail(t *testing.T) {
	assert.Equal(t, "short", truncateHeadTail("short", 100))

	long := strings.Repeat("x", 400)
	got := truncateHeadTail(long, 100)
	assert.Len(t, got, 100)
	assert.Contains(t, got, " ... ")
}
