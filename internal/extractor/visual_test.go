package extractor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

type fakeVision struct {
	lastType string
	lastSize int
	fail     bool
}

func (f *fakeVision) Describe(ctx context.Context, img []byte, contentType string) (string, error) {
	f.lastType = contentType
	f.lastSize = len(img)
	if f.fail {
		return "", errors.New("vision down")
	}
	return "a screenshot of an error dialog", nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Noise defeats PNG compression so the byte size tracks the pixel count.
	seed := uint32(1)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = byte(seed >> 24)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageSubmission(payload []byte) *models.RawSubmission {
	return &models.RawSubmission{
		ID:           "sub-6",
		Payload:      payload,
		DeclaredName: "screen.png",
		DeclaredMIME: "image/png",
		SizeBytes:    int64(len(payload)),
	}
}

func TestVisualExtractorDescribesImage(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 5<<20, testLogger())

	out, err := e.Extract(context.Background(), imageSubmission(encodePNG(t, 64, 48)), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "vision_description", res.Method)
	assert.Equal(t, models.QualityHigh, res.Quality)
	assert.Equal(t, "a screenshot of an error dialog", res.FullExtract)
	assert.Equal(t, 64, res.Metadata["width"])
	assert.Equal(t, 48, res.Metadata["height"])
	assert.Equal(t, "image/png", f.lastType)
}

func TestVisualExtractorDownscalesOversizedImage(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 50<<20, testLogger())

	out, err := e.Extract(context.Background(), imageSubmission(encodePNG(t, 4096, 16)), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, 4096, res.Metadata["width"])
	assert.Equal(t, "image/jpeg", f.lastType)
}

func encodeBMP(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestVisualExtractorDecodesBMP(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 5<<20, testLogger())
	sub := imageSubmission(encodeBMP(t, 32, 16))
	sub.DeclaredName = "screen.bmp"
	sub.DeclaredMIME = "image/bmp"

	out, err := e.Extract(context.Background(), sub, models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, 32, res.Metadata["width"])
	assert.Equal(t, 16, res.Metadata["height"])
	assert.Equal(t, "image/bmp", f.lastType)
}

func TestVisualExtractorDownscalesOversizedBMP(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 50<<20, testLogger())
	sub := imageSubmission(encodeBMP(t, 4096, 16))
	sub.DeclaredName = "screen.bmp"
	sub.DeclaredMIME = "image/bmp"

	out, err := e.Extract(context.Background(), sub, models.ClassificationResult{})
	require.NoError(t, err)

	assert.Equal(t, 4096, out.Result.Metadata["width"])
	assert.Equal(t, "image/jpeg", f.lastType)
}

func TestVisualExtractorEscalatesLargeImage(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 1<<10, testLogger())
	payload := encodePNG(t, 256, 256)
	require.Greater(t, int64(len(payload)), int64(1<<10))

	out, err := e.Extract(context.Background(), imageSubmission(payload), models.ClassificationResult{})
	require.NoError(t, err)

	require.Nil(t, out.Result)
	require.NotNil(t, out.Escalation)
	assert.Zero(t, f.lastSize)
}

func TestVisualExtractorUnavailableFallback(t *testing.T) {
	f := &fakeVision{fail: true}
	e := NewVisualExtractor(f, 5<<20, testLogger())

	out, err := e.Extract(context.Background(), imageSubmission(encodePNG(t, 32, 32)), models.ClassificationResult{})
	require.NoError(t, err)

	res := out.Result
	assert.Equal(t, "visual_unavailable", res.Method)
	assert.Equal(t, models.QualityLow, res.Quality)
	assert.Contains(t, res.Summary, "32x32")
}

func TestVisualExtractorDelegatesUndecodableBytes(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 5<<20, testLogger())
	sub := imageSubmission([]byte("not an image at all"))

	out, err := e.Extract(context.Background(), sub, models.ClassificationResult{})
	require.NoError(t, err)

	assert.Equal(t, "vision_description", out.Result.Method)
	// Decode failed: the raw bytes and the declared MIME go to the collaborator.
	assert.Equal(t, "image/png", f.lastType)
	assert.Equal(t, len(sub.Payload), f.lastSize)
}

func TestVisualExtractorDescribeBypassesThreshold(t *testing.T) {
	f := &fakeVision{}
	e := NewVisualExtractor(f, 1<<10, testLogger())
	payload := encodePNG(t, 256, 256)

	res, err := e.Describe(context.Background(), imageSubmission(payload))
	require.NoError(t, err)

	assert.Equal(t, "vision_description", res.Method)
	assert.NotZero(t, f.lastSize)
}
