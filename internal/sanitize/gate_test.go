package sanitize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

type fakeRedactor struct {
	calls int
	fail  bool
}

func (f *fakeRedactor) Redact(ctx context.Context, text string, trust models.TrustLevel) (string, int, error) {
	f.calls++
	if f.fail {
		return "", 0, errors.New("redactor down")
	}
	redacted := strings.ReplaceAll(text, "hunter2", "[REDACTED]")
	count := strings.Count(text, "hunter2")
	return redacted, count, nil
}

func TestGateSkipsLocalOnly(t *testing.T) {
	f := &fakeRedactor{}
	g := NewGate(f, utils.NewLogger("error"))
	res := &models.ExtractionResult{FullExtract: "password=hunter2"}

	applied, count, err := g.Apply(context.Background(), res, models.TrustLocalOnly)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, count)
	assert.Zero(t, f.calls)
	assert.Equal(t, "password=hunter2", res.FullExtract)
}

func TestGateRedactsExternallyShared(t *testing.T) {
	f := &fakeRedactor{}
	g := NewGate(f, utils.NewLogger("error"))
	res := &models.ExtractionResult{FullExtract: "password=hunter2 again hunter2"}

	applied, count, err := g.Apply(context.Background(), res, models.TrustExternallyShared)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, count)
	assert.NotContains(t, res.FullExtract, "hunter2")
}

func TestGateFailureIsHardForExternallyShared(t *testing.T) {
	f := &fakeRedactor{fail: true}
	g := NewGate(f, utils.NewLogger("error"))
	res := &models.ExtractionResult{FullExtract: "password=hunter2"}

	applied, _, err := g.Apply(context.Background(), res, models.TrustExternallyShared)

	require.Error(t, err)
	assert.False(t, applied)
	// Never ship unredacted content on a failed redaction.
	assert.Equal(t, "password=hunter2", res.FullExtract)
}
