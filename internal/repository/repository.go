package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mkandie/artifact-triage-api/internal/models"
)

// Repository persists the immutable PreprocessingOutput records the
// downstream investigation engine fetches by ID.
type Repository interface {
	Create(ctx context.Context, out *models.PreprocessingOutput) error
	GetByID(ctx context.Context, id string) (*models.PreprocessingOutput, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.PreprocessingOutput, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, out *models.PreprocessingOutput) error {
	classification, err := json.Marshal(out.Classification)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}
	extraction, err := json.Marshal(out.Extraction)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction: %w", err)
	}

	query := `
		INSERT INTO preprocessing_outputs
			(id, submission_id, classification, extraction, sanitization_applied,
			 redaction_count, storage_reference, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		out.ID,
		out.SubmissionID,
		string(classification),
		string(extraction),
		out.SanitizationApplied,
		out.RedactionCount,
		out.StorageReference,
		out.ProcessingTimeMS,
		out.CreatedAt,
	)
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.PreprocessingOutput, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *repository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.PreprocessingOutput, error) {
	return r.getOne(ctx, "submission_id = $1", submissionID)
}

func (r *repository) getOne(ctx context.Context, where, arg string) (*models.PreprocessingOutput, error) {
	var out models.PreprocessingOutput
	var classification, extraction string

	query := `
		SELECT id, submission_id, classification, extraction, sanitization_applied,
		       redaction_count, storage_reference, processing_time_ms, created_at
		FROM preprocessing_outputs
		WHERE ` + where

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&out.ID,
		&out.SubmissionID,
		&classification,
		&extraction,
		&out.SanitizationApplied,
		&out.RedactionCount,
		&out.StorageReference,
		&out.ProcessingTimeMS,
		&out.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(classification), &out.Classification); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classification: %w", err)
	}
	if err := json.Unmarshal([]byte(extraction), &out.Extraction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction: %w", err)
	}
	return &out, nil
}
