package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/artforge/artforge-be/internal/api/domain"
	"github.com/artforge/artforge-be/internal/api/model"
	"github.com/artforge/artforge-be/shared/postgresql"
)

// Storage handles database operations for the API service.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a Storage backed by the given PostgreSQL client.
func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{db: pg.GetDB()}
}

// CreateJob inserts a new job row.
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, user_id, job_type, status, progress,
			credits_estimated, params, created_at, retry_count, max_retries
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.UserID,
		job.JobType,
		job.Status,
		job.Progress,
		job.CreditsEstimated,
		job.Params,
		job.CreatedAt,
		job.RetryCount,
		job.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID fetches one job row.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT
			job_id, user_id, job_type, status, progress, current_node,
			credits_estimated, params, error_message,
			created_at, queued_at, started_at, completed_at,
			retry_count, max_retries
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// MarkJobQueued flips a pending job to queued.
func (s *Storage) MarkJobQueued(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1, queued_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	_, err := s.db.ExecContext(ctx, query, domain.JobStatusQueued, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job queued: %w", err)
	}

	return nil
}

// CancelJob marks a pending/queued job cancelled. Returns
// ErrInvalidTransition if the job is past the point of cancellation.
func (s *Storage) CancelJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4)
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCancelled, jobID, domain.JobStatusPending, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if affected == 0 {
		return domain.ErrInvalidTransition
	}

	return nil
}

// DeleteJob removes a job row.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a (created_at, job_id) keyset pagination position.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs so the caller can detect more pages.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
		SELECT
			job_id, user_id, job_type, status, progress, current_node,
			credits_estimated, params, error_message,
			created_at, queued_at, started_at, completed_at,
			retry_count, max_retries
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// GetProfile fetches a user's tier and balance.
func (s *Storage) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var profile model.Profile
	query := `SELECT user_id, tier, credits FROM profiles WHERE user_id = $1`

	err := s.db.GetContext(ctx, &profile, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile not found for user %s", userID)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// DebitCredits atomically deducts credits, failing without a partial
// deduction when the balance is too low.
func (s *Storage) DebitCredits(ctx context.Context, userID string, amount int) error {
	query := `
		UPDATE profiles
		SET credits = credits - $1
		WHERE user_id = $2 AND credits >= $1
	`

	res, err := s.db.ExecContext(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to debit credits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to debit credits: %w", err)
	}
	if affected == 0 {
		return domain.ErrInsufficientCredits
	}

	return nil
}

// GetModel fetches one model registry row, or nil when unknown.
func (s *Storage) GetModel(ctx context.Context, name string) (*model.Model, error) {
	var m model.Model
	query := `SELECT name, family, compatible_types FROM models WHERE name = $1`

	err := s.db.GetContext(ctx, &m, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	return &m, nil
}

// ListAssetsByJob returns a job's assets, newest first.
func (s *Storage) ListAssetsByJob(ctx context.Context, jobID string) ([]model.Asset, error) {
	var assets []model.Asset
	query := `
		SELECT asset_id, user_id, job_id, media_type, storage_key, public_url,
			width, height, params, prompt, created_at
		FROM assets
		WHERE job_id = $1
		ORDER BY created_at DESC
	`

	if err := s.db.SelectContext(ctx, &assets, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	return assets, nil
}

// ListAssetsByUser returns a user's assets, newest first.
func (s *Storage) ListAssetsByUser(ctx context.Context, userID string, limit int) ([]model.Asset, error) {
	var assets []model.Asset
	query := `
		SELECT asset_id, user_id, job_id, media_type, storage_key, public_url,
			width, height, params, prompt, created_at
		FROM assets
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if err := s.db.SelectContext(ctx, &assets, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	return assets, nil
}

// GetAssetByID fetches one asset row.
func (s *Storage) GetAssetByID(ctx context.Context, assetID string) (*model.Asset, error) {
	var asset model.Asset
	query := `
		SELECT asset_id, user_id, job_id, media_type, storage_key, public_url,
			width, height, params, prompt, created_at
		FROM assets
		WHERE asset_id = $1
	`

	err := s.db.GetContext(ctx, &asset, query, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}

// DeleteAsset removes one asset row.
func (s *Storage) DeleteAsset(ctx context.Context, assetID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// DeleteAssetsByJob removes all asset rows of a job.
func (s *Storage) DeleteAssetsByJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete assets: %w", err)
	}
	return nil
}
