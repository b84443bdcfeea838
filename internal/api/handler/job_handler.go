package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/api/dto"
	"github.com/artforge/artforge-be/internal/api/model"
	"github.com/artforge/artforge-be/internal/api/service"
	"github.com/artforge/artforge-be/internal/api/storage"
	"github.com/artforge/artforge-be/internal/notify"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	storage    *storage.Storage
	dispatcher *service.Dispatcher
	hub        *notify.Hub
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		storage:    deps.Storage,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
	}
}

// CreateJob handles POST /api/v1/jobs
// Validates, prices, persists, and enqueues a generation job.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.dispatcher.Submit(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, jobToDTO(job, nil))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job with its assets.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	assets, err := h.storage.ListAssetsByJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job, assets))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:   req.UserID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToDTO(&jobs[i], nil)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not yet been picked up by a worker.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.dispatcher.Cancel(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": "cancelled",
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Deletes a terminal job together with its assets and stored files.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.dispatcher.Delete(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// NotificationSocket handles GET /ws
// Upgrades the connection and streams job events for the user.
func (h *JobHandler) NotificationSocket(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	if err := h.hub.Serve(c.Writer, c.Request, userID); err != nil {
		h.logger.Error("Websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func jobToDTO(job *model.Job, assets []model.Asset) dto.JobDTO {
	d := dto.JobDTO{
		JobID:            job.JobID,
		UserID:           job.UserID,
		JobType:          job.JobType,
		Status:           job.Status,
		Progress:         job.Progress,
		CurrentNode:      nullString(job.CurrentNode),
		CreditsEstimated: job.CreditsEstimated,
		ErrorMessage:     nullString(job.ErrorMessage),
		CreatedAt:        job.CreatedAt.Format(time.RFC3339),
		QueuedAt:         nullTime(job.QueuedAt),
		StartedAt:        nullTime(job.StartedAt),
		CompletedAt:      nullTime(job.CompletedAt),
	}

	for _, a := range assets {
		d.Assets = append(d.Assets, assetToDTO(&a))
	}

	return d
}

func nullString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func nullTime(t sql.NullTime) string {
	if t.Valid {
		return t.Time.Format(time.RFC3339)
	}
	return ""
}
