package packager

import (
	"context"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/storage"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// Packager assembles the terminal PreprocessingOutput: it bounds the summary,
// finalizes derived metadata, and kicks off archival of the raw artifact in
// the background. It performs no external calls on the synchronous path.
type Packager struct {
	archive    storage.Archive
	summaryCap int
	logger     *utils.Logger
}

func New(archive storage.Archive, summaryCap int, logger *utils.Logger) *Packager {
	if summaryCap <= 0 {
		summaryCap = 500
	}
	return &Packager{archive: archive, summaryCap: summaryCap, logger: logger}
}

// Package builds the immutable output record for one submission. Archival is
// fire-and-forget: the storage reference is computed synchronously, the
// upload happens in the background, and an upload failure is logged but never
// propagated — the caller already has a usable summary.
func (p *Packager) Package(sub *models.RawSubmission, cls models.ClassificationResult, res *models.ExtractionResult,
	sanitized bool, redactions int, started time.Time) *models.PreprocessingOutput {

	res.Summary = truncateHeadTail(firstNonEmpty(res.Summary, res.FullExtract), p.summaryCap)
	res.CompressionRatio = compressionRatio(len(res.FullExtract), sub.SizeBytes)

	storageKey := storage.SubmissionKey(sub.ID, sub.DeclaredName)
	p.archiveAsync(sub, storageKey)

	return &models.PreprocessingOutput{
		ID:                  utils.GenerateID(),
		SubmissionID:        sub.ID,
		Classification:      cls,
		Extraction:          *res,
		SanitizationApplied: sanitized,
		RedactionCount:      redactions,
		StorageReference:    storageKey,
		ProcessingTimeMS:    time.Since(started).Milliseconds(),
		CreatedAt:           time.Now().UTC(),
	}
}

func (p *Packager) archiveAsync(sub *models.RawSubmission, key string) {
	payload := sub.Payload
	contentType := firstNonEmpty(sub.DeclaredMIME, "application/octet-stream")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := p.archive.Store(ctx, key, payload, contentType); err != nil {
			p.logger.Error("Background archival failed", "submission_id", sub.ID, "key", key, "error", err)
			return
		}
		p.logger.Debug("Raw artifact archived", "submission_id", sub.ID, "key", key)
	}()
}

// truncateHeadTail keeps the start and end of an overlong summary; the middle
// is the part a human can best do without.
func truncateHeadTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	marker := " ... "
	keep := limit - len(marker)
	head := keep * 2 / 3
	tail := keep - head
	return s[:head] + marker + s[len(s)-tail:]
}

func compressionRatio(extracted int, raw int64) float64 {
	if raw == 0 {
		return 1.0
	}
	return float64(extracted) / float64(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
