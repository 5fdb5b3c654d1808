package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

// EscalationNeed is produced instead of an ExtractionResult when an artifact
// is too large/ambiguous for automatic extraction. The escalation
// orchestrator turns it into a full EscalationRequest with candidate modes
// and an expiry.
type EscalationNeed struct {
	Reason  string
	Preview models.ArtifactPreview
}

// Outcome is the result of one extraction attempt: exactly one of Result or
// Escalation is set.
type Outcome struct {
	Result     *models.ExtractionResult
	Escalation *EscalationNeed
}

// Extractor compresses one semantic type of artifact into a diagnostic
// summary. Implementations are deterministic for fixed input and
// configuration, and report Quality low whenever they fall back to a generic
// strategy.
type Extractor interface {
	Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error)
}

// Dispatcher routes a classified submission to the extractor registered for
// its semantic type. Dispatch is a pure lookup; no extractor ever sees a type
// it was not registered for.
type Dispatcher struct {
	byType map[models.SemanticType]Extractor
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{byType: make(map[models.SemanticType]Extractor)}
}

// Register binds an extractor to a semantic type, replacing any previous
// binding.
func (d *Dispatcher) Register(t models.SemanticType, e Extractor) {
	d.byType[t] = e
}

// Extract dispatches to the extractor for the classified type.
func (d *Dispatcher) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	e, ok := d.byType[cls.SemanticType]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for type %s", cls.SemanticType)
	}
	return e.Extract(ctx, sub, cls)
}

// BuildPreview assembles the head/tail sample and structural statistics shown
// to the operator alongside escalation choices.
func BuildPreview(payload []byte, headTailBytes int) models.ArtifactPreview {
	text := string(payload)
	head := text
	tail := ""
	if len(text) > headTailBytes {
		head = text[:headTailBytes]
		tail = text[len(text)-headTailBytes:]
	}
	return models.ArtifactPreview{
		Head:      head,
		Tail:      tail,
		SizeBytes: int64(len(payload)),
		LineCount: strings.Count(text, "\n") + 1,
		WordCount: len(strings.Fields(text)),
	}
}

// headline condenses the first line of text into a short summary string.
func headline(text string, limit int) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > limit {
		line = line[:limit-3] + "..."
	}
	return line
}

// ratio computes extracted size over raw size, guarding the empty case.
func ratio(extracted, raw int) float64 {
	if raw == 0 {
		return 1.0
	}
	return float64(extracted) / float64(raw)
}
