package sanitize

import (
	"context"
	"fmt"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// Redactor is the external sanitization collaborator. It must not alter
// non-sensitive content and must be idempotent over its own output.
type Redactor interface {
	Redact(ctx context.Context, text string, trust models.TrustLevel) (string, int, error)
}

// Gate decides whether an extraction passes through redaction before leaving
// the pipeline. Locally consumed output may skip a failing redactor;
// externally shared output may not.
type Gate struct {
	redactor Redactor
	logger   *utils.Logger
}

func NewGate(redactor Redactor, logger *utils.Logger) *Gate {
	return &Gate{redactor: redactor, logger: logger}
}

// Apply redacts the extraction in place when the trust level requires it.
// It reports whether sanitization ran and how many redactions were made.
func (g *Gate) Apply(ctx context.Context, res *models.ExtractionResult, trust models.TrustLevel) (applied bool, count int, err error) {
	if trust == models.TrustLocalOnly {
		g.logger.Debug("Sanitization skipped for local-only consumer")
		return false, 0, nil
	}

	redacted, n, rerr := g.redactor.Redact(ctx, res.FullExtract, trust)
	if rerr != nil {
		return false, 0, fmt.Errorf("sanitization required for externally shared output but unavailable: %w", rerr)
	}
	res.FullExtract = redacted
	return true, n, nil
}
