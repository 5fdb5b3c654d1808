package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/models"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

var (
	// ErrNotFound means no pending escalation exists under the given ID.
	ErrNotFound = errors.New("escalation not found")
	// ErrExpired means the grace period lapsed before a choice arrived; the
	// raw artifact has been discarded and the submission marked abandoned.
	ErrExpired = errors.New("escalation expired")
	// ErrInvalidMode means the chosen mode is not one of the candidates.
	ErrInvalidMode = errors.New("invalid escalation mode")
	// ErrNotSearchable means a search was attempted against an escalation
	// that is not in on-demand-search mode.
	ErrNotSearchable = errors.New("escalation is not in on-demand search mode")
)

// State tracks where a pending escalation sits in its lifecycle.
type State string

const (
	StateAwaitingChoice State = "awaiting_choice"
	StatePreviewOnly    State = "preview_only"
	StateOnDemand       State = "on_demand_search"
)

// Pending is the per-submission record held across calls while the operator
// decides. It is the only state in the pipeline that outlives a request.
type Pending struct {
	Request        models.EscalationRequest
	Submission     *models.RawSubmission
	Classification models.ClassificationResult
	State          State
	// StorageKey is set once the raw artifact is durably archived; the
	// in-memory payload may be released after that and restored on demand.
	StorageKey string
	// Cached flips the first time an on-demand search succeeds, regardless
	// of whether the operator asked for caching.
	Cached    bool
	CreatedAt time.Time
}

// ArtifactSource restores a released payload from durable storage.
type ArtifactSource interface {
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// Orchestrator owns pending escalations: it mints requests with the four
// candidate modes, enforces the grace period, and expires abandoned artifacts
// on its own schedule.
type Orchestrator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	// expired holds tombstones for discarded escalations so repeated resumes
	// keep answering "expired" rather than "not found". Payloads are gone;
	// only the ID and discard time remain.
	expired map[string]time.Time
	source  ArtifactSource
	grace   time.Duration
	logger  *utils.Logger
	stop    chan struct{}
}

// tombstoneRetention bounds how long a discarded escalation keeps answering
// ErrExpired before the janitor forgets it entirely.
const tombstoneRetention = 24 * time.Hour

func NewOrchestrator(grace time.Duration, source ArtifactSource, logger *utils.Logger) *Orchestrator {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Orchestrator{
		pending: make(map[string]*Pending),
		expired: make(map[string]time.Time),
		source:  source,
		grace:   grace,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// candidateModes returns the fixed set of four processing options, each with
// its stated latency/cost estimate and caching behavior.
func candidateModes() []models.CandidateMode {
	return []models.CandidateMode{
		{
			Mode:            models.ModePreviewOnly,
			Description:     "Keep only the head/tail preview; the raw artifact is discarded after the grace period",
			EstimatedCost:   "none",
			EstimatedWait:   "immediate",
			CachingBehavior: "no caching",
		},
		{
			Mode:            models.ModeLightSummary,
			Description:     "Single-pass summary of a structural overview of the artifact",
			EstimatedCost:   "low",
			EstimatedWait:   "seconds",
			CachingBehavior: "structural-overview caching",
		},
		{
			Mode:            models.ModeDeepSummary,
			Description:     "Hierarchical chunk-by-chunk summary of the full artifact",
			EstimatedCost:   "high",
			EstimatedWait:   "minutes",
			CachingBehavior: "full-summary caching",
		},
		{
			Mode:            models.ModeOnDemandSearch,
			Description:     "Archive the artifact and answer targeted queries against it",
			EstimatedCost:   "per query",
			EstimatedWait:   "immediate, then per query",
			CachingBehavior: "caching deferred until first query",
		},
	}
}

// Open registers a pending escalation and returns the request to relay to
// the operator.
func (o *Orchestrator) Open(sub *models.RawSubmission, cls models.ClassificationResult, preview models.ArtifactPreview) models.EscalationRequest {
	req := models.EscalationRequest{
		EscalationID:   utils.GenerateID(),
		SubmissionID:   sub.ID,
		CandidateModes: candidateModes(),
		Preview:        preview,
		Expiry:         time.Now().Add(o.grace),
	}

	o.mu.Lock()
	o.pending[req.EscalationID] = &Pending{
		Request:        req,
		Submission:     sub,
		Classification: cls,
		State:          StateAwaitingChoice,
		CreatedAt:      time.Now(),
	}
	o.mu.Unlock()

	o.logger.Info("Escalation opened",
		"escalation_id", req.EscalationID,
		"submission_id", sub.ID,
		"expiry", req.Expiry)
	return req
}

// Resolve applies the operator's chosen mode. PREVIEW_ONLY and
// ON_DEMAND_SEARCH keep the record alive (the former until its expiry, the
// latter indefinitely for queries); the summary modes are terminal and the
// record is released to the caller.
func (o *Orchestrator) Resolve(escalationID string, mode models.EscalationMode) (*Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[escalationID]
	if !ok {
		if _, gone := o.expired[escalationID]; gone {
			return nil, ErrExpired
		}
		return nil, ErrNotFound
	}
	if p.State != StateOnDemand && time.Now().After(p.Request.Expiry) {
		o.discardLocked(escalationID, p, time.Now())
		return nil, ErrExpired
	}

	switch mode {
	case models.ModePreviewOnly:
		p.State = StatePreviewOnly
		return p, nil
	case models.ModeLightSummary, models.ModeDeepSummary:
		delete(o.pending, escalationID)
		return p, nil
	case models.ModeOnDemandSearch:
		p.State = StateOnDemand
		return p, nil
	default:
		return nil, ErrInvalidMode
	}
}

// Release records the archive location of a durably stored artifact and drops
// the in-memory payload; later searches restore it through the source.
func (o *Orchestrator) Release(escalationID, storageKey string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.pending[escalationID]; ok {
		p.StorageKey = storageKey
		p.Submission.Payload = nil
	}
}

// Search runs a substring query against an on-demand-search escalation and
// returns matching lines. A released payload is restored from the archive and
// kept in memory; the first successful query flips the record into its cached
// state.
func (o *Orchestrator) Search(ctx context.Context, escalationID, query string) ([]string, error) {
	o.mu.Lock()
	p, ok := o.pending[escalationID]
	if !ok {
		_, gone := o.expired[escalationID]
		o.mu.Unlock()
		if gone {
			return nil, ErrExpired
		}
		return nil, ErrNotFound
	}
	if p.State != StateOnDemand {
		o.mu.Unlock()
		return nil, ErrNotSearchable
	}
	payload, key := p.Submission.Payload, p.StorageKey
	o.mu.Unlock()

	if payload == nil {
		restored, err := o.source.Retrieve(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to restore archived artifact %q: %w", key, err)
		}
		payload = restored
	}

	var matches []string
	needle := strings.ToLower(query)
	for _, line := range strings.Split(string(payload), "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			matches = append(matches, line)
		}
	}

	o.mu.Lock()
	if p.Submission.Payload == nil {
		p.Submission.Payload = payload
	}
	if len(matches) > 0 && !p.Cached {
		p.Cached = true
		o.logger.Info("On-demand escalation cached after first successful query", "escalation_id", escalationID)
	}
	o.mu.Unlock()
	return matches, nil
}

// Start launches the janitor that discards abandoned artifacts after the
// grace period.
func (o *Orchestrator) Start() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				o.sweep()
			}
		}
	}()
}

func (o *Orchestrator) Stop() {
	close(o.stop)
}

func (o *Orchestrator) sweep() {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range o.pending {
		if p.State == StateOnDemand {
			continue
		}
		if now.After(p.Request.Expiry) {
			o.discardLocked(id, p, now)
		}
	}
	for id, at := range o.expired {
		if now.Sub(at) > tombstoneRetention {
			delete(o.expired, id)
		}
	}
}

// discardLocked drops the raw artifact and leaves a tombstone in its place.
// Callers must hold o.mu.
func (o *Orchestrator) discardLocked(id string, p *Pending, now time.Time) {
	delete(o.pending, id)
	o.expired[id] = now
	o.logger.Info("Discarded abandoned escalated artifact",
		"escalation_id", id, "submission_id", p.Submission.ID)
}
