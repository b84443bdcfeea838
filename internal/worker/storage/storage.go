package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/artforge/artforge-be/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob flips a queued job to processing using optimistic locking.
// Jobs cancelled while queued fail the claim the same way a duplicate
// delivery does, so the caller drops them without requeue.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NOW(),
		    progress = 0
		WHERE job_id = $2
		  AND status = $3
		RETURNING job_id, user_id, job_type, params, retry_count, max_retries
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusProcessing, jobID, domain.JobStatusQueued).Scan(
		&job.JobID,
		&job.UserID,
		&job.JobType,
		&job.Params,
		&job.RetryCount,
		&job.MaxRetries,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed, cancelled, or not found",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusProcessing

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

// UpdateJobStatus updates the job status and optionally sets an error message
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1::text,
			error_message = NULLIF($2, ''),
			progress = CASE WHEN $1::text = $3::text THEN 100 ELSE progress END,
			completed_at = CASE
				WHEN $1::text IN ($3::text, $4::text) THEN NOW()
				ELSE completed_at
			END
		WHERE job_id = $5
	`

	_, err := s.db.ExecContext(ctx, query, status, errorMsg, domain.JobStatusCompleted, domain.JobStatusFailed, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// UpdateJobProgress records execution progress on the job row.
func (s *Storage) UpdateJobProgress(ctx context.Context, jobID string, progress int, currentNode string) error {
	query := `
		UPDATE jobs
		SET progress = $1,
		    current_node = NULLIF($2, '')
		WHERE job_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, progress, currentNode, jobID, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// RequeueJob increments the retry counter and puts the job back in queued
// status so the redelivered message can claim it again. Returns the new
// retry count.
func (s *Storage) RequeueJob(ctx context.Context, jobID string) (int, error) {
	query := `
		UPDATE jobs
		SET retry_count = retry_count + 1,
		    status = $1,
		    started_at = NULL,
		    progress = 0,
		    current_node = NULL
		WHERE job_id = $2
		RETURNING retry_count
	`

	var retryCount int
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusQueued, jobID).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to requeue job: %w", err)
	}

	return retryCount, nil
}

// InsertAsset persists one produced output.
func (s *Storage) InsertAsset(ctx context.Context, asset *domain.Asset) error {
	query := `
		INSERT INTO assets (
			asset_id, user_id, job_id, media_type, storage_key, public_url,
			width, height, params, prompt, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		asset.AssetID,
		asset.UserID,
		asset.JobID,
		asset.MediaType,
		asset.StorageKey,
		asset.PublicURL,
		asset.Width,
		asset.Height,
		asset.Params,
		asset.Prompt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}

	return nil
}
