package tracker

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artforge/artforge-be/internal/notify"
)

type sentEvent struct {
	UserID string
	Event  string
	Data   any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *fakeNotifier) SendToUser(userID, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{userID, event, data})
}

type progressUpdate struct {
	JobID       string
	Progress    int
	CurrentNode string
}

type fakeProgressStore struct {
	mu      sync.Mutex
	updates []progressUpdate
}

func (f *fakeProgressStore) UpdateJobProgress(ctx context.Context, jobID string, progress int, currentNode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, progressUpdate{jobID, progress, currentNode})
	return nil
}

func newTestTracker() (*Tracker, *fakeNotifier, *fakeProgressStore) {
	notifier := &fakeNotifier{}
	store := &fakeProgressStore{}
	tr := New("ws://localhost:8188/ws", "client-1", notifier, store, slog.Default())
	return tr, notifier, store
}

func TestProgressEventRelaysPercent(t *testing.T) {
	tr, notifier, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	tr.handleRaw(context.Background(), []byte(`{"type":"progress","data":{"prompt_id":"exec-1","value":5,"max":20}}`))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "user-1", notifier.sent[0].UserID)
	assert.Equal(t, notify.EventJobProgress, notifier.sent[0].Event)
	data := notifier.sent[0].Data.(map[string]any)
	assert.Equal(t, 25, data["progress"])

	require.Len(t, store.updates, 1)
	assert.Equal(t, progressUpdate{"job-1", 25, ""}, store.updates[0])
}

func TestProgressRounding(t *testing.T) {
	tr, _, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	// 2/3 rounds to 67, not 66.
	tr.handleRaw(context.Background(), []byte(`{"type":"progress","data":{"prompt_id":"exec-1","value":2,"max":3}}`))

	require.Len(t, store.updates, 1)
	assert.Equal(t, 67, store.updates[0].Progress)
}

func TestExecutingEventResetsProgress(t *testing.T) {
	tr, notifier, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	tr.handleRaw(context.Background(), []byte(`{"type":"executing","data":{"prompt_id":"exec-1","node":"5"}}`))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, notify.EventJobNode, notifier.sent[0].Event)
	assert.Equal(t, notify.EventJobProgress, notifier.sent[1].Event)

	require.Len(t, store.updates, 1)
	assert.Equal(t, progressUpdate{"job-1", 0, "5"}, store.updates[0])
}

func TestExecutingEventWithNullNodeIgnored(t *testing.T) {
	tr, notifier, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	tr.handleRaw(context.Background(), []byte(`{"type":"executing","data":{"prompt_id":"exec-1","node":null}}`))

	assert.Empty(t, notifier.sent)
	assert.Empty(t, store.updates)
}

func TestUnregisteredHandleIgnored(t *testing.T) {
	tr, notifier, store := newTestTracker()

	tr.handleRaw(context.Background(), []byte(`{"type":"progress","data":{"prompt_id":"unknown","value":1,"max":2}}`))

	assert.Empty(t, notifier.sent)
	assert.Empty(t, store.updates)
}

func TestMalformedEventDropped(t *testing.T) {
	tr, notifier, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	tr.handleRaw(context.Background(), []byte(`{invalid json`))
	tr.handleRaw(context.Background(), []byte(`{"type":"progress","data":{"prompt_id":"exec-1","value":1,"max":2}}`))

	// State survives malformed payloads.
	require.Len(t, store.updates, 1)
	assert.Equal(t, 50, store.updates[0].Progress)
	_ = notifier
}

func TestRegisterUnregisterLookup(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.Register("exec-1", "user-1", "job-1")
	reg, ok := tr.Lookup("exec-1")
	require.True(t, ok)
	assert.Equal(t, Registration{"user-1", "job-1"}, reg)

	tr.Unregister("exec-1")
	_, ok = tr.Lookup("exec-1")
	assert.False(t, ok)

	// Idempotent.
	tr.Unregister("exec-1")
}

func TestZeroMaxProgressIgnored(t *testing.T) {
	tr, _, store := newTestTracker()
	tr.Register("exec-1", "user-1", "job-1")

	tr.handleRaw(context.Background(), []byte(`{"type":"progress","data":{"prompt_id":"exec-1","value":1,"max":0}}`))

	assert.Empty(t, store.updates)
}
