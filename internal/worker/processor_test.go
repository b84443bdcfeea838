package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artforge/artforge-be/internal/comfy"
	"github.com/artforge/artforge-be/internal/graph"
	"github.com/artforge/artforge-be/internal/worker/domain"
)

type fakeStore struct {
	job *domain.Job

	claimErr      error
	insertErr     error
	statusUpdates []string
	errorMessages []string
	requeued      int
	inserted      []*domain.Asset
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.job, nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, jobID, status, errorMsg string) error {
	s.statusUpdates = append(s.statusUpdates, status)
	s.errorMessages = append(s.errorMessages, errorMsg)
	return nil
}

func (s *fakeStore) RequeueJob(_ context.Context, jobID string) (int, error) {
	s.requeued++
	return s.job.RetryCount + s.requeued, nil
}

func (s *fakeStore) InsertAsset(_ context.Context, asset *domain.Asset) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, asset)
	return nil
}

type fakeEngine struct {
	submitErr  error
	submitted  []graph.Graph
	execution  *comfy.Execution
	historyErr error
	artifacts  map[string][]byte
	fetchErr   error
	uploads    []string
}

func (e *fakeEngine) Submit(_ context.Context, g graph.Graph, _ string) (string, error) {
	if e.submitErr != nil {
		return "", e.submitErr
	}
	e.submitted = append(e.submitted, g)
	return fmt.Sprintf("prompt-%d", len(e.submitted)), nil
}

func (e *fakeEngine) History(_ context.Context, promptID string) (*comfy.Execution, error) {
	if e.historyErr != nil {
		return nil, e.historyErr
	}
	return e.execution, nil
}

func (e *fakeEngine) FetchArtifact(_ context.Context, filename, _, _ string) ([]byte, error) {
	if e.fetchErr != nil {
		return nil, e.fetchErr
	}
	data, ok := e.artifacts[filename]
	if !ok {
		return nil, errors.New("unknown artifact")
	}
	return data, nil
}

func (e *fakeEngine) UploadArtifact(_ context.Context, _ []byte, filename string) (string, error) {
	e.uploads = append(e.uploads, filename)
	return filename, nil
}

func (e *fakeEngine) UploadDataURL(_ context.Context, _, filename string) (string, error) {
	e.uploads = append(e.uploads, filename)
	return filename, nil
}

type fakeBlobStore struct {
	puts map[string][]byte
	err  error
}

func (b *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[key] = data
	return "http://assets.local/" + key, nil
}

func (b *fakeBlobStore) Delete(_ context.Context, keys []string) error {
	return nil
}

type fakeTracker struct {
	registered   []string
	unregistered []string
}

func (t *fakeTracker) Register(promptID, userID, jobID string) {
	t.registered = append(t.registered, promptID)
}

func (t *fakeTracker) Unregister(promptID string) {
	t.unregistered = append(t.unregistered, promptID)
}

type fakeNotifier struct {
	events []string
	data   []any
}

func (n *fakeNotifier) SendToUser(_, event string, data any) {
	n.events = append(n.events, event)
	n.data = append(n.data, data)
}

func testJob(t *testing.T, jobType string, params any) *domain.Job {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return &domain.Job{
		JobID:      "6f1c2a2e-9f32-4c1d-8a6f-2d6a9e3a1b11",
		UserID:     "user-1",
		JobType:    jobType,
		Params:     string(raw),
		Status:     domain.JobStatusProcessing,
		MaxRetries: 3,
	}
}

func newTestWorker(store *fakeStore, engine *fakeEngine, blobs *fakeBlobStore, trk *fakeTracker, notifier *fakeNotifier) *Worker {
	return NewWorker(&Config{
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Store:        store,
		Engine:       engine,
		Blobs:        blobs,
		Tracker:      trk,
		Notifier:     notifier,
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		ExecTimeout:  time.Second,
	})
}

func completedExecution(bundles map[string]comfy.OutputBundle) *comfy.Execution {
	return &comfy.Execution{
		Completed: true,
		Status:    "success",
		Outputs:   bundles,
	}
}

func TestProcessJobTxt2Img(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{
		"prompt": "a lighthouse",
		"width":  512,
		"height": 512,
	})

	engine := &fakeEngine{
		execution: completedExecution(map[string]comfy.OutputBundle{
			"7": {Images: []comfy.ArtifactRef{
				{Filename: "artforge_00001_.png", Subfolder: "", Type: "output"},
			}},
		}),
		artifacts: map[string][]byte{"artforge_00001_.png": []byte("png-bytes")},
	}
	blobs := &fakeBlobStore{}
	trk := &fakeTracker{}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, blobs, trk, notifier)

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.NoError(t, err)

	require.Len(t, engine.submitted, 1)
	assert.Equal(t, []string{"completed"}, store.statusUpdates)

	require.Len(t, store.inserted, 1)
	asset := store.inserted[0]
	assert.Equal(t, "image", asset.MediaType)
	assert.Equal(t, "user-1/"+store.job.JobID+"/artforge_00001_.png", asset.StorageKey)
	assert.Equal(t, "a lighthouse", asset.Prompt)
	assert.Contains(t, blobs.puts, asset.StorageKey)

	assert.Equal(t, []string{"job:completed"}, notifier.events)
	assert.Equal(t, []string{"prompt-1"}, trk.registered)
	assert.Equal(t, []string{"prompt-1"}, trk.unregistered)
}

func TestProcessJobBatchCountRepeatsExecution(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{
		"prompt":      "a lighthouse",
		"batch_count": 3,
	})

	engine := &fakeEngine{
		execution: completedExecution(map[string]comfy.OutputBundle{
			"7": {Images: []comfy.ArtifactRef{
				{Filename: "artforge_00001_.png", Type: "output"},
			}},
		}),
		artifacts: map[string][]byte{"artforge_00001_.png": []byte("png")},
	}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, notifier)

	require.NoError(t, w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID}))
	assert.Len(t, engine.submitted, 3)
}

func TestProcessJobExecutionTimeout(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{"prompt": "a cat"})

	engine := &fakeEngine{historyErr: comfy.ErrExecutionNotFound}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, notifier)
	w.execTimeout = 50 * time.Millisecond

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.ErrorIs(t, err, domain.ErrExecutionTimeout)

	assert.Equal(t, []string{"failed"}, store.statusUpdates)
	assert.Equal(t, []string{"job:failed"}, notifier.events)
	assert.False(t, w.shouldRequeueJob(err))
}

func TestProcessJobNoOutput(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{"prompt": "a cat"})

	engine := &fakeEngine{execution: completedExecution(nil)}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, notifier)

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.ErrorIs(t, err, domain.ErrNoOutput)
	assert.Equal(t, []string{"failed"}, store.statusUpdates)
}

func TestProcessJobAssetInsertFailureRequeues(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("pq: connection reset")}
	store.job = testJob(t, "txt2img", map[string]any{"prompt": "a cat"})

	engine := &fakeEngine{
		execution: completedExecution(map[string]comfy.OutputBundle{
			"7": {Images: []comfy.ArtifactRef{
				{Filename: "artforge_00001_.png", Subfolder: "", Type: "output"},
			}},
		}),
		artifacts: map[string][]byte{"artforge_00001_.png": []byte("png-bytes")},
	}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, notifier)

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.Error(t, err)

	var retryable *domain.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, 1, store.requeued)
	assert.True(t, w.shouldRequeueJob(err))
	assert.NotContains(t, store.statusUpdates, "completed",
		"a job without its asset row must not complete")
	assert.NotContains(t, notifier.events, "job:completed")
}

func TestProcessJobClaimLost(t *testing.T) {
	store := &fakeStore{claimErr: domain.ErrJobAlreadyClaimed}
	engine := &fakeEngine{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, &fakeNotifier{})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: "6f1c2a2e-9f32-4c1d-8a6f-2d6a9e3a1b11"})
	require.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

	assert.Empty(t, engine.submitted, "cancelled deliveries never reach the engine")
	assert.False(t, w.shouldRequeueJob(err))
}

func TestProcessJobRetryableFailureRequeues(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{"prompt": "a cat"})

	engine := &fakeEngine{
		submitErr: fmt.Errorf("%w: connection refused", comfy.ErrEngineUnavailable),
	}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, &fakeNotifier{})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.Error(t, err)

	var retryable *domain.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, 1, store.requeued)
	assert.True(t, w.shouldRequeueJob(err))
	assert.Empty(t, store.statusUpdates, "retried jobs are not marked failed")
}

func TestProcessJobRetryBudgetExhausted(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "txt2img", map[string]any{"prompt": "a cat"})
	store.job.RetryCount = 3

	engine := &fakeEngine{
		submitErr: fmt.Errorf("%w: connection refused", comfy.ErrEngineUnavailable),
	}
	notifier := &fakeNotifier{}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, notifier)

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)

	assert.Zero(t, store.requeued)
	assert.Equal(t, []string{"failed"}, store.statusUpdates)
	assert.Equal(t, []string{"job:failed"}, notifier.events)
	assert.False(t, w.shouldRequeueJob(err))
}

func TestProcessJobMalformedParams(t *testing.T) {
	store := &fakeStore{}
	store.job = &domain.Job{
		JobID:   "6f1c2a2e-9f32-4c1d-8a6f-2d6a9e3a1b11",
		UserID:  "user-1",
		JobType: "txt2img",
		Params:  "{not json",
	}

	w := newTestWorker(store, &fakeEngine{}, &fakeBlobStore{}, &fakeTracker{}, &fakeNotifier{})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Equal(t, []string{"failed"}, store.statusUpdates)
	assert.False(t, w.shouldRequeueJob(err))
}

func TestProcessJobWorkflowStagesDataURLs(t *testing.T) {
	store := &fakeStore{}
	store.job = testJob(t, "workflow", map[string]any{
		"workflow": map[string]any{
			"nodes": []map[string]any{
				{"id": "load", "type": "loadImage", "data": map[string]any{
					"image": "data:image/png;base64,aGVsbG8=",
				}},
				{"id": "save", "type": "saveImage", "data": map[string]any{}},
			},
			"edges": []map[string]any{
				{"source": "load", "sourceHandle": "image", "target": "save", "targetHandle": "images"},
			},
		},
	})

	engine := &fakeEngine{
		execution: completedExecution(map[string]comfy.OutputBundle{
			"2": {Images: []comfy.ArtifactRef{
				{Filename: "artforge_00001_.png", Type: "output"},
			}},
		}),
		artifacts: map[string][]byte{"artforge_00001_.png": []byte("png")},
	}

	w := newTestWorker(store, engine, &fakeBlobStore{}, &fakeTracker{}, &fakeNotifier{})

	require.NoError(t, w.processJob(context.Background(), &domain.JobMessage{JobID: store.job.JobID}))
	require.Len(t, engine.uploads, 1, "inline image staged on the engine before compilation")
	assert.Equal(t, []string{"completed"}, store.statusUpdates)
}
