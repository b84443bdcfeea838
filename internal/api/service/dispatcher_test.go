package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artforge/artforge-be/internal/api/domain"
	"github.com/artforge/artforge-be/internal/api/dto"
	"github.com/artforge/artforge-be/internal/api/model"
)

type fakeStore struct {
	profile *model.Profile
	models  map[string]*model.Model
	job     *model.Job
	assets  []model.Asset

	created       *model.Job
	debitedAmount int
	debitedUser   string
	markedQueued  []string
	cancelled     []string
	deletedJobs   []string
	deletedAssets []string
}

func (s *fakeStore) CreateJob(_ context.Context, job *model.Job) error {
	s.created = job
	return nil
}

func (s *fakeStore) GetJobByID(_ context.Context, jobID string) (*model.Job, error) {
	if s.job == nil || s.job.JobID != jobID {
		return nil, domain.ErrJobNotFound
	}
	return s.job, nil
}

func (s *fakeStore) MarkJobQueued(_ context.Context, jobID string) error {
	s.markedQueued = append(s.markedQueued, jobID)
	return nil
}

func (s *fakeStore) CancelJob(_ context.Context, jobID string) error {
	s.cancelled = append(s.cancelled, jobID)
	return nil
}

func (s *fakeStore) DeleteJob(_ context.Context, jobID string) error {
	s.deletedJobs = append(s.deletedJobs, jobID)
	return nil
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	if s.profile == nil {
		return nil, domain.ErrJobNotFound
	}
	return s.profile, nil
}

func (s *fakeStore) DebitCredits(_ context.Context, userID string, amount int) error {
	if s.profile != nil && s.profile.Credits < amount {
		return domain.ErrInsufficientCredits
	}
	s.debitedUser = userID
	s.debitedAmount = amount
	return nil
}

func (s *fakeStore) GetModel(_ context.Context, name string) (*model.Model, error) {
	return s.models[name], nil
}

func (s *fakeStore) ListAssetsByJob(_ context.Context, jobID string) ([]model.Asset, error) {
	return s.assets, nil
}

func (s *fakeStore) DeleteAssetsByJob(_ context.Context, jobID string) error {
	s.deletedAssets = append(s.deletedAssets, jobID)
	return nil
}

type fakeQueue struct {
	published  [][]byte
	priorities []uint8
	err        error
}

func (q *fakeQueue) Publish(_ context.Context, body []byte, priority uint8) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, body)
	q.priorities = append(q.priorities, priority)
	return nil
}

type fakeBlobDeleter struct {
	deleted []string
	err     error
}

func (b *fakeBlobDeleter) Delete(_ context.Context, keys []string) error {
	if b.err != nil {
		return b.err
	}
	b.deleted = append(b.deleted, keys...)
	return nil
}

type fakeNotifier struct {
	events []string
	users  []string
}

func (n *fakeNotifier) SendToUser(userID, event string, _ any) {
	n.users = append(n.users, userID)
	n.events = append(n.events, event)
}

func newTestDispatcher(t *testing.T, store *fakeStore, queue *fakeQueue) (*Dispatcher, *fakeNotifier, *fakeBlobDeleter) {
	t.Helper()
	notifier := &fakeNotifier{}
	blobs := &fakeBlobDeleter{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	d := NewDispatcher(store, queue, blobs, notifier, logger, Config{
		InputDir:   t.TempDir(),
		MaxRetries: 3,
	})
	return d, notifier, blobs
}

func TestSubmitTxt2Img(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	job, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:     "user-1",
		JobType:    "txt2img",
		Prompt:     "a lighthouse at dusk",
		Width:      1024,
		Height:     1024,
		Steps:      30,
		BatchSize:  2,
		BatchCount: 2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, 4, job.CreditsEstimated, "1 credit x 2 x 2")
	assert.Equal(t, 4, store.debitedAmount)
	assert.Equal(t, "user-1", store.debitedUser)
	assert.Equal(t, []string{job.JobID}, store.markedQueued)

	require.Len(t, queue.published, 1)
	assert.Equal(t, []uint8{3}, queue.priorities, "pro tier maps to priority 3")

	var item WorkItem
	require.NoError(t, json.Unmarshal(queue.published[0], &item))
	assert.Equal(t, job.JobID, item.JobID)
	assert.Equal(t, "txt2img", item.JobType)
	assert.Equal(t, "user-1", item.UserID)
}

func TestSubmitVideoCost(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "enterprise", Credits: 50},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	job, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2vid",
		Prompt:  "waves rolling in",
		Length:  33,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, job.CreditsEstimated)
	assert.Equal(t, []uint8{4}, queue.priorities)
}

func TestSubmitCollectsAllViolations(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2img",
		Width:   64,
		Steps:   500,
		Denoise: 1.5,
	})
	require.Error(t, err)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
	assert.Empty(t, queue.published, "invalid requests never reach the queue")
	assert.Zero(t, store.debitedAmount)
}

func TestSubmitUnknownJobType(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeStore{}, &fakeQueue{})

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "img2song",
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmitIncompatibleModel(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2img",
		Prompt:  "a cat",
		Model:   "wan2.1_t2v_1.3B_fp16.safetensors",
	})

	require.ErrorIs(t, err, domain.ErrIncompatibleModel)
	assert.Empty(t, queue.published)
}

func TestSubmitModelRegistryOverridesNaming(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
		models: map[string]*model.Model{
			"wanderer_xl.safetensors": {
				Name:            "wanderer_xl.safetensors",
				CompatibleTypes: sql.NullString{String: "txt2img, img2img", Valid: true},
			},
		},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	// Name contains "wan" so the static table would call it a video model.
	// The registry row says otherwise and wins.
	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2img",
		Prompt:  "a cat",
		Model:   "wanderer_xl.safetensors",
	})
	require.NoError(t, err)
}

func TestSubmitMissingInputImage(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:        "user-1",
		JobType:       "img2img",
		Prompt:        "a cat",
		ImageFilename: "not-uploaded.png",
	})

	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Empty(t, queue.published)
}

func TestSubmitInpaintRequiresMask(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "source.png"), []byte("png"), 0o644))

	d := NewDispatcher(store, queue, &fakeBlobDeleter{}, notifier, logger, Config{InputDir: inputDir})

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:        "user-1",
		JobType:       "inpaint",
		Prompt:        "remove the pole",
		ImageFilename: "source.png",
	})

	require.ErrorIs(t, err, domain.ErrMissingInput)
}

func TestSubmitTierLimitExceeded(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "free", Credits: 100},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2img",
		Prompt:  "a cat",
		Width:   2048,
		Height:  2048,
	})

	require.ErrorIs(t, err, domain.ErrTierLimitExceeded)
	assert.Empty(t, queue.published)
}

func TestSubmitInsufficientCredits(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "free", Credits: 5},
	}
	queue := &fakeQueue{}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2vid",
		Prompt:  "a cat",
	})

	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Empty(t, queue.published)
	assert.Zero(t, store.debitedAmount)
}

func TestSubmitPublishFailure(t *testing.T) {
	store := &fakeStore{
		profile: &model.Profile{UserID: "user-1", Tier: "pro", Credits: 100},
	}
	queue := &fakeQueue{err: errors.New("broker down")}
	d, _, _ := newTestDispatcher(t, store, queue)

	_, err := d.Submit(context.Background(), &dto.CreateJobRequest{
		UserID:  "user-1",
		JobType: "txt2img",
		Prompt:  "a cat",
	})

	require.Error(t, err)
	assert.Zero(t, store.debitedAmount, "no debit when the enqueue fails")
}

func TestCancelQueuedJob(t *testing.T) {
	store := &fakeStore{
		job: &model.Job{JobID: "job-1", UserID: "user-1", Status: "queued"},
	}
	d, notifier, _ := newTestDispatcher(t, store, &fakeQueue{})

	require.NoError(t, d.Cancel(context.Background(), "job-1"))
	assert.Equal(t, []string{"job-1"}, store.cancelled)
	assert.Equal(t, []string{"job:cancelled"}, notifier.events)
	assert.Equal(t, []string{"user-1"}, notifier.users)
}

func TestCancelProcessingJobRejected(t *testing.T) {
	store := &fakeStore{
		job: &model.Job{JobID: "job-1", UserID: "user-1", Status: "processing"},
	}
	d, notifier, _ := newTestDispatcher(t, store, &fakeQueue{})

	err := d.Cancel(context.Background(), "job-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, store.cancelled)
	assert.Empty(t, notifier.events)
}

func TestDeleteCompletedJob(t *testing.T) {
	store := &fakeStore{
		job: &model.Job{JobID: "job-1", UserID: "user-1", Status: "completed"},
		assets: []model.Asset{
			{AssetID: "asset-1", StorageKey: "user-1/job-1/out.png"},
		},
	}
	d, _, blobs := newTestDispatcher(t, store, &fakeQueue{})

	require.NoError(t, d.Delete(context.Background(), "job-1"))
	assert.Equal(t, []string{"user-1/job-1/out.png"}, blobs.deleted)
	assert.Equal(t, []string{"job-1"}, store.deletedAssets)
	assert.Equal(t, []string{"job-1"}, store.deletedJobs)
}

func TestDeleteSurvivesBlobFailure(t *testing.T) {
	store := &fakeStore{
		job: &model.Job{JobID: "job-1", UserID: "user-1", Status: "failed"},
		assets: []model.Asset{
			{AssetID: "asset-1", StorageKey: "user-1/job-1/out.png"},
		},
	}
	d, _, blobs := newTestDispatcher(t, store, &fakeQueue{})
	blobs.err = errors.New("disk gone")

	require.NoError(t, d.Delete(context.Background(), "job-1"))
	assert.Equal(t, []string{"job-1"}, store.deletedJobs)
}

func TestDeleteActiveJobRejected(t *testing.T) {
	store := &fakeStore{
		job: &model.Job{JobID: "job-1", UserID: "user-1", Status: "processing"},
	}
	d, _, _ := newTestDispatcher(t, store, &fakeQueue{})

	err := d.Delete(context.Background(), "job-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, store.deletedJobs)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		jobType    domain.JobType
		batchSize  int
		batchCount int
		want       int
	}{
		{domain.JobTypeTxt2Img, 1, 1, 1},
		{domain.JobTypeTxt2Img, 4, 4, 16},
		{domain.JobTypeUpscale, 1, 1, 2},
		{domain.JobTypeInpaint, 2, 1, 4},
		{domain.JobTypeTxt2Vid, 1, 1, 10},
		{domain.JobTypeImg2Vid, 0, 0, 10},
		{domain.JobTypeWorkflow, 1, 3, 6},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateCost(tt.jobType, tt.batchSize, tt.batchCount),
			"type=%s size=%d count=%d", tt.jobType, tt.batchSize, tt.batchCount)
	}
}
