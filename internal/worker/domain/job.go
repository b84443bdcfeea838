package domain

import "encoding/json"

// Job represents a job row claimed for processing
type Job struct {
	JobID      string
	UserID     string
	JobType    string
	Params     string // JSON string
	Status     string
	RetryCount int
	MaxRetries int
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	JobType     string          `json:"job_type"`
	Params      json.RawMessage `json:"params"`
	DeliveryTag uint64          `json:"-"`
}

// Asset is one stored output of a completed job.
type Asset struct {
	AssetID    string
	UserID     string
	JobID      string
	MediaType  string
	StorageKey string
	PublicURL  string
	Width      int
	Height     int
	Params     string
	Prompt     string
}
