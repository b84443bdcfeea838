package domain

// Job status constants, shared with the API service's jobs table.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Media type constants for stored assets
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)
