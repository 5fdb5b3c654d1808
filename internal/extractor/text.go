package extractor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// Summarizer is the external text-summarization collaborator. Chunk calls may
// run in any order; the combining call must only happen after every chunk
// result is in.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// TextExtractor compresses unstructured text through the summarization
// collaborator: directly for small documents, hierarchically (chunk →
// summarize → combine) for medium ones. At or above the escalation threshold
// it does not process automatically and asks the operator instead.
type TextExtractor struct {
	summarizer      Summarizer
	escalationBytes int64
	chunkBytes      int
	previewBytes    int
	logger          *utils.Logger
}

func NewTextExtractor(summarizer Summarizer, escalationBytes int64, logger *utils.Logger) *TextExtractor {
	if escalationBytes <= 0 {
		escalationBytes = 100 << 10
	}
	return &TextExtractor{
		summarizer:      summarizer,
		escalationBytes: escalationBytes,
		chunkBytes:      8 << 10,
		previewBytes:    2 << 10,
		logger:          logger,
	}
}

func (e *TextExtractor) Extract(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult) (*Outcome, error) {
	if sub.SizeBytes >= e.escalationBytes {
		return &Outcome{Escalation: &EscalationNeed{
			Reason:  fmt.Sprintf("text artifact of %d bytes exceeds the %d byte automatic-processing threshold", sub.SizeBytes, e.escalationBytes),
			Preview: BuildPreview(sub.Payload, e.previewBytes),
		}}, nil
	}

	text, carrier := e.unwrap(sub)
	if strings.TrimSpace(text) == "" {
		return &Outcome{Result: &models.ExtractionResult{
			Method:           "text_excerpt",
			Summary:          "empty text artifact",
			FullExtract:      "",
			CompressionRatio: 0,
			Metadata:         map[string]interface{}{"carrier": carrier},
			Quality:          models.QualityLow,
		}}, nil
	}

	method := "direct_summary"
	var summary string
	var err error
	if len(text) <= e.chunkBytes {
		summary, err = e.summarizer.Summarize(ctx, text)
	} else {
		method = "hierarchical_summary"
		summary, err = e.hierarchical(ctx, text)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.excerptFallback(sub, text, carrier, err), nil
	}

	return &Outcome{Result: &models.ExtractionResult{
		Method:           method,
		Summary:          headline(summary, 500),
		FullExtract:      summary,
		CompressionRatio: ratio(len(summary), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"carrier":     carrier,
			"input_chars": len(text),
		},
		Quality: models.QualityHigh,
	}}, nil
}

// unwrap pulls plain text out of document carriers (PDF, DOCX) and decodes
// everything else.
func (e *TextExtractor) unwrap(sub *models.RawSubmission) (text, carrier string) {
	switch {
	case bytes.HasPrefix(sub.Payload, []byte("%PDF")):
		if t, err := extractPDFText(sub.Payload); err == nil {
			return normalizeText(t), "pdf"
		}
		e.logger.Warn("PDF text extraction failed, decoding raw bytes", "submission_id", sub.ID)
	case bytes.HasPrefix(sub.Payload, []byte("PK\x03\x04")) && strings.EqualFold(filepath.Ext(sub.DeclaredName), ".docx"):
		if t, err := extractDOCXText(sub.Payload); err == nil {
			return normalizeText(t), "docx"
		}
		e.logger.Warn("DOCX text extraction failed, decoding raw bytes", "submission_id", sub.ID)
	}
	return normalizeText(decodeText(sub.Payload)), "plain"
}

// hierarchical splits the text into chunks on line boundaries, summarizes
// each, and reduces all chunk summaries with one combining call.
func (e *TextExtractor) hierarchical(ctx context.Context, text string) (string, error) {
	chunks := splitChunks(text, e.chunkBytes)

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		part, err := e.summarizer.Summarize(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return e.summarizer.Summarize(ctx, strings.Join(parts, "\n\n"))
}

func (e *TextExtractor) excerptFallback(sub *models.RawSubmission, text, carrier string, cause error) *Outcome {
	e.logger.Warn("Summarization collaborator unavailable, returning excerpt",
		"submission_id", sub.ID, "error", cause)

	excerpt := text
	if len(text) > 2*e.previewBytes {
		excerpt = text[:e.previewBytes] + "\n... [middle omitted] ...\n" + text[len(text)-e.previewBytes:]
	}
	return &Outcome{Result: &models.ExtractionResult{
		Method:           "text_excerpt",
		Summary:          headline(text, 500),
		FullExtract:      excerpt,
		CompressionRatio: ratio(len(excerpt), len(sub.Payload)),
		Metadata: map[string]interface{}{
			"carrier":          carrier,
			"summarizer_error": cause.Error(),
			"fallback":         true,
		},
		Quality: models.QualityLow,
	}}
}

// Light produces the light-summary escalation upgrade: one summarization
// pass over a bounded structural excerpt rather than the whole document.
func (e *TextExtractor) Light(ctx context.Context, sub *models.RawSubmission) (*models.ExtractionResult, error) {
	text, carrier := e.unwrap(sub)
	excerpt := text
	if len(text) > 2*e.chunkBytes {
		excerpt = text[:e.chunkBytes] + "\n... [middle omitted] ...\n" + text[len(text)-e.chunkBytes:]
	}
	summary, err := e.summarizer.Summarize(ctx, excerpt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out := e.excerptFallback(sub, text, carrier, err)
		return out.Result, nil
	}
	return &models.ExtractionResult{
		Method:           "light_summary",
		Summary:          headline(summary, 500),
		FullExtract:      summary,
		CompressionRatio: ratio(len(summary), len(sub.Payload)),
		Metadata:         map[string]interface{}{"carrier": carrier, "excerpt_chars": len(excerpt)},
		Quality:          models.QualityMedium,
	}, nil
}

// Deep produces the deep-summary escalation upgrade: the full hierarchical
// reduction regardless of size.
func (e *TextExtractor) Deep(ctx context.Context, sub *models.RawSubmission) (*models.ExtractionResult, error) {
	text, carrier := e.unwrap(sub)
	summary, err := e.hierarchical(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out := e.excerptFallback(sub, text, carrier, err)
		return out.Result, nil
	}
	return &models.ExtractionResult{
		Method:           "deep_summary",
		Summary:          headline(summary, 500),
		FullExtract:      summary,
		CompressionRatio: ratio(len(summary), len(sub.Payload)),
		Metadata:         map[string]interface{}{"carrier": carrier, "input_chars": len(text)},
		Quality:          models.QualityHigh,
	}, nil
}

func splitChunks(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		cut := strings.LastIndexByte(text[:size], '\n')
		if cut <= 0 {
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
