package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/comfy"
	"github.com/artforge/artforge-be/internal/graph"
	"github.com/artforge/artforge-be/internal/notify"
	"github.com/artforge/artforge-be/internal/worker/domain"
)

// jobParams is the stored parameter bag of a job.
type jobParams struct {
	graph.Request
	BatchCount int             `json:"batch_count"`
	Workflow   *graph.Workflow `json:"workflow"`
}

// processJob drives one job from claim to terminal status
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job (queued → processing). Jobs cancelled while queued
	// lose the claim here and their delivery is dropped.
	job, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed or cancelled, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job not claimable: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Decode stored params
	var params jobParams
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil {
		w.logger.Error("Failed to parse job params",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		w.failJob(ctx, job, fmt.Sprintf("invalid params JSON: %s", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	// Step 3: Execution wall clock budget covers every batch run
	jobCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	defer cancel()

	runs := params.BatchCount
	if runs < 1 {
		runs = 1
	}

	var stored []*domain.Asset
	for run := 0; run < runs; run++ {
		assets, err := w.runGeneration(jobCtx, job, &params, run)
		if err != nil {
			return w.handleExecutionFailure(ctx, job, err)
		}
		stored = append(stored, assets...)
	}

	if len(stored) == 0 {
		w.failJob(ctx, job, domain.ErrNoOutput.Error())
		return domain.ErrNoOutput
	}

	// Step 6: Persist the primary asset record. The row is what makes the
	// outputs addressable, so the job must not complete without it. Insert
	// failures are persistence hiccups and get the retry treatment.
	primary := stored[0]
	if err := w.store.InsertAsset(ctx, primary); err != nil {
		return w.handleExecutionFailure(ctx, job,
			domain.NewRetryableError(fmt.Errorf("persist primary asset: %w", err)))
	}

	if err := w.store.UpdateJobStatus(ctx, job.JobID, domain.JobStatusCompleted, ""); err != nil {
		w.logger.Error("Failed to update job status to completed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		// Job completed but status update failed - still ACK the message
	}

	urls := make([]string, len(stored))
	for i, a := range stored {
		urls[i] = a.PublicURL
	}
	w.notifier.SendToUser(job.UserID, notify.EventJobCompleted, map[string]any{
		"job_id":     job.JobID,
		"asset_id":   primary.AssetID,
		"url":        primary.PublicURL,
		"media_type": primary.MediaType,
		"urls":       urls,
	})

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Int("outputs", len(stored)),
	)

	return nil
}

// runGeneration compiles, submits, and awaits one graph execution, then
// harvests its outputs. Batch repeats call this once per run so sentinel
// seeds re-roll.
func (w *Worker) runGeneration(ctx context.Context, job *domain.Job, params *jobParams, run int) ([]*domain.Asset, error) {
	g, err := w.compileGraph(ctx, job.JobType, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	promptID, err := w.engine.Submit(ctx, g, w.workerID)
	if err != nil {
		return nil, fmt.Errorf("submit graph: %w", err)
	}

	w.logger.Info("Graph submitted",
		slog.String("job_id", job.JobID),
		slog.String("prompt_id", promptID),
		slog.Int("run", run),
	)

	w.tracker.Register(promptID, job.UserID, job.JobID)
	defer w.tracker.Unregister(promptID)

	exec, err := w.awaitExecution(ctx, job.JobID, promptID)
	if err != nil {
		return nil, err
	}

	return w.harvestOutputs(ctx, job, params, exec)
}

// compileGraph turns the stored params into an engine graph.
func (w *Worker) compileGraph(ctx context.Context, jobType string, params *jobParams) (graph.Graph, error) {
	if jobType == graph.TypeWorkflow {
		if params.Workflow == nil {
			return nil, fmt.Errorf("workflow job without a node graph")
		}
		if err := w.stageWorkflowInputs(ctx, params.Workflow); err != nil {
			return nil, err
		}
		return graph.CompileWorkflow(params.Workflow)
	}
	if err := w.stageFileInputs(ctx, params); err != nil {
		return nil, err
	}
	return graph.Compile(jobType, params.Request)
}

// stageFileInputs pushes the job's source image and mask from the shared
// input directory onto the engine. A missing local file is tolerated since
// the engine may mount the same directory.
func (w *Worker) stageFileInputs(ctx context.Context, params *jobParams) error {
	for _, name := range []string{params.ImageFilename, params.MaskFilename} {
		if name == "" {
			continue
		}
		name = filepath.Base(name)

		data, err := os.ReadFile(filepath.Join(w.inputDir, name))
		if err != nil {
			w.logger.Debug("Input file not readable locally, assuming shared input dir",
				slog.String("filename", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := w.engine.UploadArtifact(ctx, data, name); err != nil {
			return fmt.Errorf("stage input %s: %w", name, err)
		}
	}
	return nil
}

// stageWorkflowInputs uploads inline data-URL images referenced by the
// user's node graph and rewrites the nodes to point at the uploaded names.
func (w *Worker) stageWorkflowInputs(ctx context.Context, wf *graph.Workflow) error {
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		raw, ok := node.Data["image"].(string)
		if !ok || len(raw) < 5 || raw[:5] != "data:" {
			continue
		}

		name := uuid.New().String() + ".png"
		uploaded, err := w.engine.UploadDataURL(ctx, raw, name)
		if err != nil {
			return fmt.Errorf("stage workflow input: %w", err)
		}
		node.Data["image"] = uploaded
	}
	return nil
}

// awaitExecution polls execution history until completion or the wall
// clock runs out.
func (w *Worker) awaitExecution(ctx context.Context, jobID, promptID string) (*comfy.Execution, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.ErrExecutionTimeout
			}
			return nil, ctx.Err()

		case <-ticker.C:
			exec, err := w.engine.History(ctx, promptID)
			if err != nil {
				if errors.Is(err, comfy.ErrExecutionNotFound) {
					// Not in history yet, still queued on the engine
					continue
				}
				w.logger.Warn("History poll failed",
					slog.String("job_id", jobID),
					slog.String("prompt_id", promptID),
					slog.String("error", err.Error()),
				)
				continue
			}

			if !exec.Completed {
				if exec.Status == "error" {
					return nil, fmt.Errorf("engine reported execution error")
				}
				continue
			}

			return exec, nil
		}
	}
}

// handleExecutionFailure marks the job failed or requeues it depending on
// the error class and remaining retry budget.
func (w *Worker) handleExecutionFailure(ctx context.Context, job *domain.Job, execErr error) error {
	w.logger.Error("Job execution failed",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.String("error", execErr.Error()),
	)

	if isRetryable(execErr) && job.RetryCount < job.MaxRetries {
		retryCount, err := w.store.RequeueJob(ctx, job.JobID)
		if err != nil {
			w.logger.Error("Failed to requeue job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			w.failJob(ctx, job, execErr.Error())
			return fmt.Errorf("job execution failed: %w", execErr)
		}

		w.logger.Info("Job will be retried",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", retryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return domain.NewRetryableError(execErr)
	}

	w.failJob(ctx, job, execErr.Error())

	if isRetryable(execErr) {
		w.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, execErr)
	}

	return fmt.Errorf("job execution failed: %w", execErr)
}

// failJob records the failure and notifies the owner.
func (w *Worker) failJob(ctx context.Context, job *domain.Job, errorMsg string) {
	if err := w.store.UpdateJobStatus(ctx, job.JobID, domain.JobStatusFailed, errorMsg); err != nil {
		w.logger.Error("Failed to update job status to failed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.notifier.SendToUser(job.UserID, notify.EventJobFailed, map[string]any{
		"job_id": job.JobID,
		"error":  errorMsg,
	})
}

// isRetryable reports whether the error is transient.
func isRetryable(err error) bool {
	var retryable *domain.RetryableError
	return errors.Is(err, comfy.ErrEngineUnavailable) || errors.As(err, &retryable)
}
