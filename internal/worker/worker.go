package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/blob"
	"github.com/artforge/artforge-be/internal/comfy"
	"github.com/artforge/artforge-be/internal/graph"
	"github.com/artforge/artforge-be/internal/notify"
	"github.com/artforge/artforge-be/internal/worker/domain"
	"github.com/artforge/artforge-be/shared/rabbitmq"
)

// Engine is the generation engine surface the worker drives.
type Engine interface {
	Submit(ctx context.Context, g graph.Graph, clientID string) (string, error)
	History(ctx context.Context, promptID string) (*comfy.Execution, error)
	FetchArtifact(ctx context.Context, filename, subfolder, artifactType string) ([]byte, error)
	UploadArtifact(ctx context.Context, data []byte, filename string) (string, error)
	UploadDataURL(ctx context.Context, dataURL, filename string) (string, error)
}

// JobStore is the persistence surface the worker needs.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error
	RequeueJob(ctx context.Context, jobID string) (int, error)
	InsertAsset(ctx context.Context, asset *domain.Asset) error
}

// ExecutionTracker maps live executions to their jobs for the event stream.
type ExecutionTracker interface {
	Register(promptID, userID, jobID string)
	Unregister(promptID string)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Store         JobStore
	Engine        Engine
	Blobs         blob.Store
	Tracker       ExecutionTracker
	Notifier      notify.Notifier
	Concurrency   int
	PrefetchCount int
	PollInterval  time.Duration
	ExecTimeout   time.Duration

	// InputDir is where the API service drops uploaded source images.
	InputDir string

	// ClientID identifies this worker to the engine. Must match the id the
	// tracker dials the event stream with, or events will not be routed.
	ClientID string
}

// Worker consumes job messages and drives generation on the engine
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        JobStore
	engine       Engine
	blobs        blob.Store
	tracker      ExecutionTracker
	notifier     notify.Notifier

	concurrency   int
	prefetchCount int
	pollInterval  time.Duration
	execTimeout   time.Duration
	inputDir      string

	workerID string
	jobsChan chan *domain.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		store:         cfg.Store,
		engine:        cfg.Engine,
		blobs:         cfg.Blobs,
		tracker:       cfg.Tracker,
		notifier:      cfg.Notifier,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		pollInterval:  cfg.PollInterval,
		execTimeout:   cfg.ExecTimeout,
		inputDir:      cfg.InputDir,
		workerID:      clientID,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. Blocks until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("exec_timeout", w.execTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
