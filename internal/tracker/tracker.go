// Package tracker maintains the live mapping from engine execution handles
// to owning jobs and relays engine-pushed progress events. Terminal-state
// detection stays with the polling worker; the tracker only ever writes
// progress fields.
package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artforge/artforge-be/internal/notify"
)

const reconnectDelay = 5 * time.Second

// Registration ties an execution handle to its owning job and user.
type Registration struct {
	UserID string
	JobID  string
}

// ProgressStore persists progress updates onto the job record.
type ProgressStore interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress int, currentNode string) error
}

// Tracker consumes the engine's event stream.
type Tracker struct {
	wsURL    string
	clientID string
	logger   *slog.Logger
	notifier notify.Notifier
	store    ProgressStore

	mu     sync.RWMutex
	active map[string]Registration
}

// New creates a tracker that will connect to wsURL identifying as clientID.
func New(wsURL, clientID string, notifier notify.Notifier, store ProgressStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		wsURL:    wsURL,
		clientID: clientID,
		logger:   logger,
		notifier: notifier,
		store:    store,
		active:   make(map[string]Registration),
	}
}

// Register maps an execution handle to its job. Must be called right after
// graph submission, before the first event can arrive.
func (t *Tracker) Register(promptID, userID, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[promptID] = Registration{UserID: userID, JobID: jobID}
}

// Unregister drops the handle mapping. Safe to call twice.
func (t *Tracker) Unregister(promptID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, promptID)
}

// Lookup resolves a handle to its registration.
func (t *Tracker) Lookup(promptID string) (Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.active[promptID]
	return reg, ok
}

// Start runs the event consumption loop until ctx is cancelled,
// reconnecting with a fixed delay on any disconnect.
func (t *Tracker) Start(ctx context.Context) {
	for {
		if err := t.consume(ctx); err != nil {
			t.logger.Warn("Engine event stream disconnected",
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			t.logger.Info("Execution tracker stopped")
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (t *Tracker) consume(ctx context.Context) error {
	url := t.wsURL + "?clientId=" + t.clientID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	t.logger.Info("Connected to engine event stream",
		slog.String("url", t.wsURL),
	)

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		t.handleRaw(ctx, data)
	}
}

// event is the engine's pushed event envelope.
type event struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Value    float64 `json:"value"`
		Max      float64 `json:"max"`
		Node     *string `json:"node"`
	} `json:"data"`
}

// handleRaw parses and dispatches one event. Malformed payloads are
// dropped without affecting tracker state.
func (t *Tracker) handleRaw(ctx context.Context, data []byte) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.logger.Debug("Dropping malformed engine event",
			slog.Any("error", err),
		)
		return
	}
	t.handleEvent(ctx, ev)
}

func (t *Tracker) handleEvent(ctx context.Context, ev event) {
	reg, ok := t.Lookup(ev.Data.PromptID)
	if !ok {
		// The job may have completed or been cancelled already.
		return
	}

	switch ev.Type {
	case "progress":
		if ev.Data.Max <= 0 {
			return
		}
		percent := int(math.Round(ev.Data.Value / ev.Data.Max * 100))
		t.relayProgress(ctx, reg, percent, "")

	case "executing":
		if ev.Data.Node == nil {
			return
		}
		t.notifier.SendToUser(reg.UserID, notify.EventJobNode, map[string]any{
			"job_id": reg.JobID,
			"node":   *ev.Data.Node,
		})
		t.relayProgress(ctx, reg, 0, *ev.Data.Node)
	}
}

func (t *Tracker) relayProgress(ctx context.Context, reg Registration, percent int, currentNode string) {
	t.notifier.SendToUser(reg.UserID, notify.EventJobProgress, map[string]any{
		"job_id":   reg.JobID,
		"progress": percent,
	})

	if err := t.store.UpdateJobProgress(ctx, reg.JobID, percent, currentNode); err != nil {
		t.logger.Warn("Failed to persist job progress",
			slog.String("job_id", reg.JobID),
			slog.Any("error", err),
		)
	}
}
