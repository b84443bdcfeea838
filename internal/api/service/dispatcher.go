// Package service holds the job dispatcher: the submission-side validation
// and pricing pipeline between the HTTP handlers and the queue.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/api/domain"
	"github.com/artforge/artforge-be/internal/api/dto"
	"github.com/artforge/artforge-be/internal/api/model"
	"github.com/artforge/artforge-be/internal/notify"
)

// Parameter bounds enforced at submission.
const (
	MaxPromptLength = 2000
	MinResolution   = 128
	MaxResolution   = 2048
	MinSteps        = 1
	MaxSteps        = 150
	MinCFG          = 1.0
	MaxCFG          = 30.0
	MinBatch        = 1
	MaxBatch        = 4
	MinVideoLength  = 9
	MaxVideoLength  = 129
)

// Store is the row-store surface the dispatcher needs.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	MarkJobQueued(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	DebitCredits(ctx context.Context, userID string, amount int) error
	GetModel(ctx context.Context, name string) (*model.Model, error)
	ListAssetsByJob(ctx context.Context, jobID string) ([]model.Asset, error)
	DeleteAssetsByJob(ctx context.Context, jobID string) error
}

// Queue publishes work items.
type Queue interface {
	Publish(ctx context.Context, body []byte, priority uint8) error
}

// BlobDeleter removes stored asset binaries.
type BlobDeleter interface {
	Delete(ctx context.Context, keys []string) error
}

// WorkItem is the queue message consumed by the worker service.
type WorkItem struct {
	JobID   string          `json:"job_id"`
	UserID  string          `json:"user_id"`
	JobType string          `json:"job_type"`
	Params  json.RawMessage `json:"params"`
}

// Config holds dispatcher settings.
type Config struct {
	InputDir   string
	MaxRetries int
}

// Dispatcher validates, prices, persists, and enqueues generation jobs.
type Dispatcher struct {
	store    Store
	queue    Queue
	blobs    BlobDeleter
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(store Store, queue Queue, blobs BlobDeleter, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Dispatcher{
		store:    store,
		queue:    queue,
		blobs:    blobs,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Submit runs the synchronous validation pipeline and enqueues the job.
// Validation-class failures never reach the queue.
func (d *Dispatcher) Submit(ctx context.Context, req *dto.CreateJobRequest) (*model.Job, error) {
	jobType := domain.JobType(req.JobType)
	if !jobType.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown job type %q", req.JobType))
	}

	if err := validateBounds(jobType, req); err != nil {
		return nil, err
	}

	if req.Model != "" {
		if err := d.checkModelCompatibility(ctx, req.Model, jobType); err != nil {
			return nil, err
		}
	}

	if err := d.checkInputFiles(jobType, req); err != nil {
		return nil, err
	}

	profile, err := d.store.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	tier := domain.Tier(profile.Tier)
	if err := checkTierLimits(tier, req); err != nil {
		return nil, err
	}

	cost := EstimateCost(jobType, req.BatchSize, req.BatchCount)
	if profile.Credits < cost {
		return nil, domain.ErrInsufficientCredits
	}

	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job params: %w", err)
	}

	job := &model.Job{
		JobID:            uuid.New().String(),
		UserID:           req.UserID,
		JobType:          req.JobType,
		Status:           string(domain.JobStatusPending),
		CreditsEstimated: cost,
		Params:           string(params),
		CreatedAt:        time.Now().UTC(),
		MaxRetries:       d.cfg.MaxRetries,
	}

	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	item, err := json.Marshal(WorkItem{
		JobID:   job.JobID,
		UserID:  job.UserID,
		JobType: job.JobType,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}

	if err := d.queue.Publish(ctx, item, domain.PriorityFor(tier)); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	// Not transactional with job creation: a failure past this point does
	// not refund. The debit itself cannot go partial or negative.
	if err := d.store.DebitCredits(ctx, req.UserID, cost); err != nil {
		return nil, err
	}

	if err := d.store.MarkJobQueued(ctx, job.JobID); err != nil {
		d.logger.Error("Failed to mark job queued",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	} else {
		job.Status = string(domain.JobStatusQueued)
	}

	d.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.String("user_id", job.UserID),
		slog.Int("credits", cost),
	)

	return job, nil
}

// Cancel cancels a pending/queued job. Cancellation is a no-op once the
// job has been dispatched to a worker.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	job, err := d.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	if !domain.JobStatus(job.Status).Cancellable() {
		return domain.ErrInvalidTransition
	}

	if err := d.store.CancelJob(ctx, jobID); err != nil {
		return err
	}

	d.notifier.SendToUser(job.UserID, notify.EventJobCancelled, map[string]any{
		"job_id": jobID,
	})

	return nil
}

// Delete removes a terminal job with its assets and blobs. Blob cleanup
// failures are logged, not fatal: orphaned blobs beat orphaned records.
func (d *Dispatcher) Delete(ctx context.Context, jobID string) error {
	job, err := d.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	if !domain.JobStatus(job.Status).Terminal() {
		return domain.ErrInvalidTransition
	}

	assets, err := d.store.ListAssetsByJob(ctx, jobID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.StorageKey != "" {
			keys = append(keys, a.StorageKey)
		}
	}
	if len(keys) > 0 {
		if err := d.blobs.Delete(ctx, keys); err != nil {
			d.logger.Warn("Failed to delete asset blobs",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}

	if err := d.store.DeleteAssetsByJob(ctx, jobID); err != nil {
		return err
	}

	return d.store.DeleteJob(ctx, jobID)
}

// EstimateCost computes the credit cost of a job.
func EstimateCost(jobType domain.JobType, batchSize, batchCount int) int {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchCount < 1 {
		batchCount = 1
	}
	return domain.BaseCost(jobType) * batchSize * batchCount
}

// validateBounds schema-validates the parameter bag, collecting every
// violation instead of stopping at the first.
func validateBounds(jobType domain.JobType, req *dto.CreateJobRequest) error {
	verr := &domain.ValidationError{}

	if len(req.Prompt) > MaxPromptLength {
		verr.Violationf("prompt exceeds %d characters", MaxPromptLength)
	}
	if len(req.NegativePrompt) > MaxPromptLength {
		verr.Violationf("negative_prompt exceeds %d characters", MaxPromptLength)
	}
	if req.Width != 0 && (req.Width < MinResolution || req.Width > MaxResolution) {
		verr.Violationf("width must be between %d and %d", MinResolution, MaxResolution)
	}
	if req.Height != 0 && (req.Height < MinResolution || req.Height > MaxResolution) {
		verr.Violationf("height must be between %d and %d", MinResolution, MaxResolution)
	}
	if req.Steps != 0 && (req.Steps < MinSteps || req.Steps > MaxSteps) {
		verr.Violationf("steps must be between %d and %d", MinSteps, MaxSteps)
	}
	if req.CFGScale != 0 && (req.CFGScale < MinCFG || req.CFGScale > MaxCFG) {
		verr.Violationf("cfg_scale must be between %.0f and %.0f", MinCFG, MaxCFG)
	}
	if req.BatchSize != 0 && (req.BatchSize < MinBatch || req.BatchSize > MaxBatch) {
		verr.Violationf("batch_size must be between %d and %d", MinBatch, MaxBatch)
	}
	if req.BatchCount != 0 && (req.BatchCount < MinBatch || req.BatchCount > MaxBatch) {
		verr.Violationf("batch_count must be between %d and %d", MinBatch, MaxBatch)
	}
	if req.Denoise != 0 && (req.Denoise < 0 || req.Denoise > 1) {
		verr.Violationf("denoise must be between 0 and 1")
	}
	if jobType.Video() && req.Length != 0 && (req.Length < MinVideoLength || req.Length > MaxVideoLength) {
		verr.Violationf("length must be between %d and %d frames", MinVideoLength, MaxVideoLength)
	}
	if jobType == domain.JobTypeWorkflow && (req.Workflow == nil || len(req.Workflow.Nodes) == 0) {
		verr.Violationf("workflow jobs require a node graph")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// checkModelCompatibility prefers the model registry's per-model metadata
// and falls back to the static naming-convention table.
func (d *Dispatcher) checkModelCompatibility(ctx context.Context, modelName string, jobType domain.JobType) error {
	m, err := d.store.GetModel(ctx, modelName)
	if err != nil {
		return err
	}

	var compatible []domain.JobType
	if m != nil && m.CompatibleTypes.Valid && m.CompatibleTypes.String != "" {
		for _, t := range strings.Split(m.CompatibleTypes.String, ",") {
			compatible = append(compatible, domain.JobType(strings.TrimSpace(t)))
		}
	} else {
		compatible = staticCompatibleTypes(modelName)
	}

	for _, t := range compatible {
		if t == jobType {
			return nil
		}
	}

	return fmt.Errorf("%w: model %q, job type %q", domain.ErrIncompatibleModel, modelName, jobType)
}

var imageJobTypes = []domain.JobType{
	domain.JobTypeTxt2Img,
	domain.JobTypeImg2Img,
	domain.JobTypeInpaint,
	domain.JobTypeOutpaint,
	domain.JobTypeUpscale,
	domain.JobTypeWorkflow,
}

var videoJobTypes = []domain.JobType{
	domain.JobTypeTxt2Vid,
	domain.JobTypeImg2Vid,
	domain.JobTypeWorkflow,
}

// staticCompatibleTypes is the built-in fallback compatibility table,
// keyed on model naming conventions.
func staticCompatibleTypes(modelName string) []domain.JobType {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "wan") || strings.Contains(lower, "svd") || strings.Contains(lower, "video") {
		return videoJobTypes
	}
	return imageJobTypes
}

// checkInputFiles verifies that required uploads exist in the shared input
// directory. Existence only; content is the engine's problem.
func (d *Dispatcher) checkInputFiles(jobType domain.JobType, req *dto.CreateJobRequest) error {
	if !jobType.RequiresInputImage() && jobType != domain.JobTypeInpaint {
		return nil
	}

	if req.ImageFilename == "" {
		return fmt.Errorf("%w: %s requires an input image", domain.ErrMissingInput, jobType)
	}
	if err := d.statInput(req.ImageFilename); err != nil {
		return err
	}

	if jobType == domain.JobTypeInpaint {
		if req.MaskFilename == "" {
			return fmt.Errorf("%w: inpaint requires a mask", domain.ErrMissingInput)
		}
		if err := d.statInput(req.MaskFilename); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) statInput(filename string) error {
	path := filepath.Join(d.cfg.InputDir, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrMissingInput, filename)
	}
	return nil
}

// checkTierLimits enforces the caller's plan bounds.
func checkTierLimits(tier domain.Tier, req *dto.CreateJobRequest) error {
	limits := domain.LimitsFor(tier)

	if req.Width > limits.MaxResolution || req.Height > limits.MaxResolution {
		return fmt.Errorf("%w: max resolution for tier %s is %d", domain.ErrTierLimitExceeded, tier, limits.MaxResolution)
	}
	if req.Steps > limits.MaxSteps {
		return fmt.Errorf("%w: max steps for tier %s is %d", domain.ErrTierLimitExceeded, tier, limits.MaxSteps)
	}

	return nil
}
