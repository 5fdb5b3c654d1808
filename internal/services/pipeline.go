package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/classifier"
	"github.com/mkandie/artifact-triage-api/internal/collab"
	"github.com/mkandie/artifact-triage-api/internal/config"
	"github.com/mkandie/artifact-triage-api/internal/escalation"
	"github.com/mkandie/artifact-triage-api/internal/extractor"
	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/packager"
	"github.com/mkandie/artifact-triage-api/internal/repository"
	"github.com/mkandie/artifact-triage-api/internal/sanitize"
	"github.com/mkandie/artifact-triage-api/internal/storage"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

// ProcessRequest carries one uploaded artifact through the pipeline.
type ProcessRequest struct {
	Payload      []byte
	Filename     string
	ContentType  string
	DeclaredType string // optional operator-supplied semantic type
	SymbolHint   string
	TrustLevel   models.TrustLevel
}

// ProcessResponse holds exactly one of: the finished output, or an
// escalation request awaiting an operator choice.
type ProcessResponse struct {
	Output     *models.PreprocessingOutput `json:"output,omitempty"`
	Escalation *models.EscalationRequest   `json:"escalation,omitempty"`
}

type PipelineService interface {
	Process(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error)
	Resume(ctx context.Context, escalationID string, mode models.EscalationMode, trust models.TrustLevel) (*ProcessResponse, error)
	Search(ctx context.Context, escalationID, query string) ([]string, error)
	GetOutput(ctx context.Context, id string) (*models.PreprocessingOutput, error)
	GetOutputForSubmission(ctx context.Context, submissionID string) (*models.PreprocessingOutput, error)
	Close()
}

type pipelineService struct {
	cfg           *config.Config
	repo          repository.Repository
	classifier    *classifier.Classifier
	dispatcher    *extractor.Dispatcher
	textExtract   *extractor.TextExtractor
	visualExtract *extractor.VisualExtractor
	orchestrator  *escalation.Orchestrator
	gate          *sanitize.Gate
	packager      *packager.Packager
	archive       storage.Archive
	logger        *utils.Logger
}

func NewService(repo repository.Repository, cfg *config.Config, logger *utils.Logger) (PipelineService, error) {
	archive, err := storage.NewS3Archive(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archival store: %w", err)
	}

	summarizer := collab.NewSummarizerClient(cfg.SummarizerURL, cfg.CollaboratorKey, cfg.CollaboratorTimeout, cfg.CollaboratorRetries, logger)
	vision := collab.NewVisionClient(cfg.VisionURL, cfg.CollaboratorKey, cfg.CollaboratorTimeout, cfg.CollaboratorRetries, logger)
	redactor := collab.NewRedactorClient(cfg.RedactorURL, cfg.CollaboratorKey, cfg.CollaboratorTimeout, cfg.CollaboratorRetries, logger)

	textExtract := extractor.NewTextExtractor(summarizer, cfg.TextEscalationBytes, logger)
	visualExtract := extractor.NewVisualExtractor(vision, cfg.ImageEscalationBytes, logger)

	dispatcher := extractor.NewDispatcher()
	dispatcher.Register(models.TypeLogEvents, extractor.NewLogExtractor(cfg.LogContextHalfWidth, logger))
	dispatcher.Register(models.TypeMetricsSeries, extractor.NewMetricsExtractor(cfg.ZScoreThreshold, cfg.MaxAnomalies, logger))
	dispatcher.Register(models.TypeStructuredConfig, extractor.NewConfigExtractor(logger))
	dispatcher.Register(models.TypeSourceCode, extractor.NewCodeExtractor(logger))
	dispatcher.Register(models.TypeUnstructuredText, textExtract)
	dispatcher.Register(models.TypeVisualEvidence, visualExtract)

	orchestrator := escalation.NewOrchestrator(cfg.EscalationGrace, archive, logger)
	orchestrator.Start()

	return &pipelineService{
		cfg:           cfg,
		repo:          repo,
		classifier:    classifier.New(classifier.DefaultSignalTable(), cfg.ClassifySampleBytes, cfg.ErrorDensityFactor),
		dispatcher:    dispatcher,
		textExtract:   textExtract,
		visualExtract: visualExtract,
		orchestrator:  orchestrator,
		gate:          sanitize.NewGate(redactor, logger),
		packager:      packager.New(archive, cfg.SummaryCharCap, logger),
		archive:       archive,
		logger:        logger,
	}, nil
}

func (s *pipelineService) Close() {
	s.orchestrator.Stop()
}

func (s *pipelineService) Process(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error) {
	started := time.Now()

	if int64(len(req.Payload)) > s.cfg.MaxInputBytes {
		return nil, utils.NewPayloadTooLargeError(fmt.Sprintf(
			"artifact of %d bytes exceeds the %d byte limit; narrow the time range, filter by severity, or split the file and resubmit",
			len(req.Payload), s.cfg.MaxInputBytes))
	}

	sub := &models.RawSubmission{
		ID:           utils.GenerateID(),
		Payload:      req.Payload,
		DeclaredName: req.Filename,
		DeclaredMIME: req.ContentType,
		SizeBytes:    int64(len(req.Payload)),
		SymbolHint:   req.SymbolHint,
		ReceivedAt:   started,
	}

	var cls models.ClassificationResult
	if t, ok := parseSemanticType(req.DeclaredType); ok {
		cls = classifier.UserSupplied(t)
	} else {
		cls = s.classifier.Classify(sub.Payload, sub.DeclaredName, sub.DeclaredMIME)
	}
	s.logger.Info("Artifact classified",
		"submission_id", sub.ID,
		"semantic_type", cls.SemanticType,
		"tier", cls.ConfidenceTier,
		"confidence", cls.Confidence)

	outcome, err := s.dispatcher.Extract(ctx, sub, cls)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("Extraction failed", "submission_id", sub.ID, "error", err)
		return nil, utils.NewInternalError("Failed to extract artifact")
	}

	if outcome.Escalation != nil {
		esc := s.orchestrator.Open(sub, cls, outcome.Escalation.Preview)
		return &ProcessResponse{Escalation: &esc}, nil
	}

	return s.finish(ctx, sub, cls, outcome.Result, req.TrustLevel, started)
}

// finish runs the sanitization gate and packaging common to the direct and
// resumed paths, then persists the record.
func (s *pipelineService) finish(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult,
	res *models.ExtractionResult, trust models.TrustLevel, started time.Time) (*ProcessResponse, error) {

	applied, redactions, err := s.gate.Apply(ctx, res, trust)
	if err != nil {
		s.logger.Error("Sanitization failed for externally shared output", "submission_id", sub.ID, "error", err)
		return nil, utils.NewInternalError("Sanitization is required for externally shared output and is currently unavailable")
	}

	out := s.packager.Package(sub, cls, res, applied, redactions, started)
	if err := s.repo.Create(ctx, out); err != nil {
		s.logger.Error("Failed to persist preprocessing output", "submission_id", sub.ID, "error", err)
		return nil, utils.NewInternalError("Failed to persist preprocessing output")
	}
	return &ProcessResponse{Output: out}, nil
}

func (s *pipelineService) Resume(ctx context.Context, escalationID string, mode models.EscalationMode, trust models.TrustLevel) (*ProcessResponse, error) {
	pending, err := s.orchestrator.Resolve(escalationID, mode)
	if err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			return nil, utils.NewNotFoundError("Escalation not found")
		case errors.Is(err, escalation.ErrExpired):
			return nil, utils.NewGoneError("Escalation expired; the raw artifact has been discarded, resubmit to continue")
		case errors.Is(err, escalation.ErrInvalidMode):
			return nil, utils.NewBadRequestError("Unknown escalation mode")
		default:
			return nil, utils.NewInternalError("Failed to resume escalation")
		}
	}

	sub := pending.Submission
	cls := pending.Classification
	started := time.Now()

	var res *models.ExtractionResult
	switch mode {
	case models.ModePreviewOnly:
		res = previewResult(pending)
	case models.ModeLightSummary, models.ModeDeepSummary:
		res, err = s.upgradeSummary(ctx, sub, cls, mode)
		if err != nil {
			return nil, err
		}
	case models.ModeOnDemandSearch:
		res = &models.ExtractionResult{
			Method:      "on_demand_search",
			Summary:     fmt.Sprintf("artifact of %d bytes archived; query it on demand", sub.SizeBytes),
			FullExtract: fmt.Sprintf("artifact %q (%d bytes) is held for on-demand search", sub.DeclaredName, sub.SizeBytes),
			Metadata:    map[string]interface{}{"searchable": true},
			Quality:     models.QualityMedium,
		}
	}

	s.logger.Info("Escalation resumed", "escalation_id", escalationID, "mode", mode)
	resp, err := s.finish(ctx, sub, cls, res, trust, started)
	if err != nil {
		return nil, err
	}

	// The on-demand record may outlive the grace period indefinitely, so the
	// raw bytes move to the archive synchronously and the in-memory copy is
	// released; searches restore it from the archive.
	if mode == models.ModeOnDemandSearch {
		key := storage.SubmissionKey(sub.ID, sub.DeclaredName)
		contentType := sub.DeclaredMIME
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.archive.Store(ctx, key, sub.Payload, contentType); err != nil {
			s.logger.Warn("Synchronous archival failed, keeping artifact in memory",
				"submission_id", sub.ID, "key", key, "error", err)
		} else {
			s.orchestrator.Release(escalationID, key)
		}
	}
	return resp, nil
}

func (s *pipelineService) upgradeSummary(ctx context.Context, sub *models.RawSubmission, cls models.ClassificationResult, mode models.EscalationMode) (*models.ExtractionResult, error) {
	if cls.SemanticType == models.TypeVisualEvidence {
		res, err := s.visualExtract.Describe(ctx, sub)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if mode == models.ModeLightSummary {
		return s.textExtract.Light(ctx, sub)
	}
	return s.textExtract.Deep(ctx, sub)
}

func (s *pipelineService) Search(ctx context.Context, escalationID, query string) ([]string, error) {
	matches, err := s.orchestrator.Search(ctx, escalationID, query)
	if err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			return nil, utils.NewNotFoundError("Escalation not found")
		case errors.Is(err, escalation.ErrExpired):
			return nil, utils.NewGoneError("Escalation expired; the raw artifact has been discarded, resubmit to continue")
		case errors.Is(err, escalation.ErrNotSearchable):
			return nil, utils.NewBadRequestError("Escalation is not in on-demand search mode")
		default:
			return nil, utils.NewInternalError("Search failed")
		}
	}
	return matches, nil
}

func (s *pipelineService) GetOutput(ctx context.Context, id string) (*models.PreprocessingOutput, error) {
	out, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load preprocessing output", "id", id, "error", err)
		return nil, utils.NewInternalError("Failed to load preprocessing output")
	}
	if out == nil {
		return nil, utils.NewNotFoundError("Preprocessing output not found")
	}
	return out, nil
}

// GetOutputForSubmission is the lookup the downstream engine uses: it knows
// the submission ID from the upload response, not the output's own ID.
func (s *pipelineService) GetOutputForSubmission(ctx context.Context, submissionID string) (*models.PreprocessingOutput, error) {
	out, err := s.repo.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		s.logger.Error("Failed to load preprocessing output", "submission_id", submissionID, "error", err)
		return nil, utils.NewInternalError("Failed to load preprocessing output")
	}
	if out == nil {
		return nil, utils.NewNotFoundError("No preprocessing output for this submission")
	}
	return out, nil
}

// previewResult wraps the already-computed preview as a low-quality result;
// the pending escalation stays open for an upgrade until its expiry.
func previewResult(pending *escalation.Pending) *models.ExtractionResult {
	p := pending.Request.Preview
	extract := p.Head
	if p.Tail != "" {
		extract += "\n... [middle omitted] ...\n" + p.Tail
	}
	return &models.ExtractionResult{
		Method:      "preview_only",
		Summary:     fmt.Sprintf("preview of %d bytes (%d lines); full artifact not processed", p.SizeBytes, p.LineCount),
		FullExtract: extract,
		Metadata: map[string]interface{}{
			"line_count": p.LineCount,
			"word_count": p.WordCount,
		},
		Quality: models.QualityLow,
	}
}

func parseSemanticType(v string) (models.SemanticType, bool) {
	switch models.SemanticType(strings.ToLower(strings.TrimSpace(v))) {
	case models.TypeLogEvents:
		return models.TypeLogEvents, true
	case models.TypeMetricsSeries:
		return models.TypeMetricsSeries, true
	case models.TypeStructuredConfig:
		return models.TypeStructuredConfig, true
	case models.TypeSourceCode:
		return models.TypeSourceCode, true
	case models.TypeUnstructuredText:
		return models.TypeUnstructuredText, true
	case models.TypeVisualEvidence:
		return models.TypeVisualEvidence, true
	}
	return "", false
}
