package models

import (
	"time"
)

// SemanticType is the closed set of artifact categories the classifier can
// assign. Every submission maps to exactly one type before extraction begins.
type SemanticType string

const (
	TypeLogEvents        SemanticType = "log_events"
	TypeMetricsSeries    SemanticType = "metrics_series"
	TypeStructuredConfig SemanticType = "structured_config"
	TypeSourceCode       SemanticType = "source_code"
	TypeUnstructuredText SemanticType = "unstructured_text"
	TypeVisualEvidence   SemanticType = "visual_evidence"
)

// ConfidenceTier orders how much trust a classification decision deserves.
// Higher values mean stronger evidence.
type ConfidenceTier string

const (
	TierDefinitive       ConfidenceTier = "definitive"
	TierStrong           ConfidenceTier = "strong"
	TierWeak             ConfidenceTier = "weak"
	TierContextual       ConfidenceTier = "contextual"
	TierExternalFallback ConfidenceTier = "external_fallback"
	TierUserSupplied     ConfidenceTier = "user_supplied"
)

// tierRank maps tiers to their ordering; used for comparisons only.
var tierRank = map[ConfidenceTier]int{
	TierDefinitive:       6,
	TierStrong:           5,
	TierWeak:             4,
	TierContextual:       3,
	TierExternalFallback: 2,
	TierUserSupplied:     1,
}

// Rank returns the tier's position in the ordering (higher is stronger).
func (t ConfidenceTier) Rank() int {
	return tierRank[t]
}

// Quality reflects whether an extractor found what it was looking for or fell
// back to a generic strategy.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// RawSubmission is the immutable input to the pipeline. Created once per
// upload, never mutated, discarded after extraction completes (or after the
// escalation grace period if a choice is pending).
type RawSubmission struct {
	ID           string
	Payload      []byte
	DeclaredName string
	DeclaredMIME string
	SizeBytes    int64
	// SymbolHint optionally names a code symbol taken from an accompanying
	// error trace; the code extractor narrows to its enclosing definition.
	SymbolHint string
	ReceivedAt time.Time
}

// ClassificationResult is the classifier's verdict for one submission.
type ClassificationResult struct {
	SemanticType SemanticType `json:"semantic_type"`
	// Subtype refines the semantic type after disambiguation
	// (e.g. "error_report", "distributed_trace", "execution_profile").
	Subtype        string         `json:"subtype,omitempty"`
	ConfidenceTier ConfidenceTier `json:"confidence_tier"`
	Confidence     float64        `json:"confidence"`
	MatchedSignals []string       `json:"matched_signals,omitempty"`
	Reasoning      string         `json:"reasoning"`
}

// ExtractionResult is the compressed, high-signal summary of one artifact.
type ExtractionResult struct {
	Method           string                 `json:"method"`
	Summary          string                 `json:"summary"`
	FullExtract      string                 `json:"full_extract"`
	CompressionRatio float64                `json:"compression_ratio"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Quality          Quality                `json:"quality"`
}

// EscalationMode names one of the four processing options offered to the
// operator for large, ambiguous artifacts.
type EscalationMode string

const (
	ModePreviewOnly    EscalationMode = "preview_only"
	ModeLightSummary   EscalationMode = "light_summary"
	ModeDeepSummary    EscalationMode = "deep_summary"
	ModeOnDemandSearch EscalationMode = "on_demand_search"
)

// CandidateMode describes one escalation option: what it costs, how long it
// takes, and what gets cached.
type CandidateMode struct {
	Mode            EscalationMode `json:"mode"`
	Description     string         `json:"description"`
	EstimatedCost   string         `json:"estimated_cost"`
	EstimatedWait   string         `json:"estimated_wait"`
	CachingBehavior string         `json:"caching_behavior"`
}

// EscalationRequest is produced instead of an ExtractionResult when an
// artifact is too large/ambiguous for automatic extraction.
type EscalationRequest struct {
	EscalationID   string          `json:"escalation_id"`
	SubmissionID   string          `json:"submission_id"`
	CandidateModes []CandidateMode `json:"candidate_modes"`
	Preview        ArtifactPreview `json:"preview"`
	Expiry         time.Time       `json:"expiry"`
}

// ArtifactPreview is the head/tail sample plus structural statistics shown to
// the operator alongside the candidate modes.
type ArtifactPreview struct {
	Head      string `json:"head"`
	Tail      string `json:"tail"`
	SizeBytes int64  `json:"size_bytes"`
	LineCount int    `json:"line_count"`
	WordCount int    `json:"word_count"`
}

// PreprocessingOutput is the terminal record for one submission: created
// exactly once, immutable thereafter, referenced indefinitely by the
// downstream investigation engine.
type PreprocessingOutput struct {
	ID                  string               `json:"id" db:"id"`
	SubmissionID        string               `json:"submission_id" db:"submission_id"`
	Classification      ClassificationResult `json:"classification"`
	Extraction          ExtractionResult     `json:"extraction"`
	SanitizationApplied bool                 `json:"sanitization_applied" db:"sanitization_applied"`
	RedactionCount      int                  `json:"redaction_count" db:"redaction_count"`
	StorageReference    string               `json:"storage_reference,omitempty" db:"storage_reference"`
	ProcessingTimeMS    int64                `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt           time.Time            `json:"created_at" db:"created_at"`
}

// TrustLevel tells the sanitization gate where the output is headed.
type TrustLevel string

const (
	TrustLocalOnly        TrustLevel = "local_only"
	TrustExternallyShared TrustLevel = "externally_shared"
)
