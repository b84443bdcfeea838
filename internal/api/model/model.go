package model

import (
	"database/sql"
	"time"
)

// Job is the persisted job row.
type Job struct {
	JobID            string         `db:"job_id"`
	UserID           string         `db:"user_id"`
	JobType          string         `db:"job_type"`
	Status           string         `db:"status"`
	Progress         int            `db:"progress"`
	CurrentNode      sql.NullString `db:"current_node"`
	CreditsEstimated int            `db:"credits_estimated"`
	Params           string         `db:"params"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	QueuedAt         sql.NullTime   `db:"queued_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	RetryCount       int            `db:"retry_count"`
	MaxRetries       int            `db:"max_retries"`
}

// Asset is the persisted asset row.
type Asset struct {
	AssetID    string    `db:"asset_id"`
	UserID     string    `db:"user_id"`
	JobID      string    `db:"job_id"`
	MediaType  string    `db:"media_type"`
	StorageKey string    `db:"storage_key"`
	PublicURL  string    `db:"public_url"`
	Width      int       `db:"width"`
	Height     int       `db:"height"`
	Params     string    `db:"params"`
	Prompt     string    `db:"prompt"`
	CreatedAt  time.Time `db:"created_at"`
}

// Profile is the persisted user profile row.
type Profile struct {
	UserID  string `db:"user_id"`
	Tier    string `db:"tier"`
	Credits int    `db:"credits"`
}

// Model is one row of the model registry.
type Model struct {
	Name            string         `db:"name"`
	Family          sql.NullString `db:"family"`
	CompatibleTypes sql.NullString `db:"compatible_types"` // comma-joined job types
}
