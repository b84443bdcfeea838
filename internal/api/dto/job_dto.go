package dto

import "github.com/artforge/artforge-be/internal/graph"

// CreateJobRequest is the submission payload. Type-specific fields are
// optional; the validation pipeline decides which ones the chosen type
// requires.
type CreateJobRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	JobType string `json:"type" binding:"required"`

	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           *int64  `json:"seed"`
	Denoise        float64 `json:"denoise"`
	SamplerName    string  `json:"sampler_name"`
	Scheduler      string  `json:"scheduler"`
	BatchSize      int     `json:"batch_size"`
	BatchCount     int     `json:"batch_count"`
	Model          string  `json:"model"`
	ImageFilename  string  `json:"image_filename"`
	MaskFilename   string  `json:"mask_filename"`
	ScaleFactor    float64 `json:"scale_factor"`
	Length         int     `json:"length"`
	FPS            float64 `json:"fps"`

	Workflow *graph.Workflow `json:"workflow"`
}

// ListJobsRequest filters and paginates the job list.
type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// JobDTO is the wire shape of a job.
type JobDTO struct {
	JobID            string     `json:"job_id"`
	UserID           string     `json:"user_id"`
	JobType          string     `json:"type"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	CurrentNode      string     `json:"current_node,omitempty"`
	CreditsEstimated int        `json:"credits_estimated"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        string     `json:"created_at"`
	QueuedAt         string     `json:"queued_at,omitempty"`
	StartedAt        string     `json:"started_at,omitempty"`
	CompletedAt      string     `json:"completed_at,omitempty"`
	Assets           []AssetDTO `json:"assets,omitempty"`
}

// ListJobsResponse is a page of jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// AssetDTO is the wire shape of an asset.
type AssetDTO struct {
	AssetID   string `json:"asset_id"`
	JobID     string `json:"job_id"`
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	CreatedAt string `json:"created_at"`
}
