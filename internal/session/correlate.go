package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Resolution is the single outcome of a tracked request: an acknowledgment
// payload, an explicit error, or a deadline fallback (TimedOut).
type Resolution struct {
	Payload  json.RawMessage
	Err      error
	TimedOut bool
}

// Handle awaits the resolution of one tracked request.
type Handle struct {
	id string
	ch chan Resolution
}

// ID returns the correlation id of the tracked request.
func (h *Handle) ID() string {
	return h.id
}

// Await blocks until the request resolves or ctx is cancelled. The tracker
// guarantees resolution by the deadline, so Await never blocks indefinitely.
func (h *Handle) Await(ctx context.Context) Resolution {
	select {
	case res := <-h.ch:
		return res
	case <-ctx.Done():
		return Resolution{Err: ctx.Err()}
	}
}

type pendingRequest struct {
	ch    chan Resolution
	timer *time.Timer
}

// Tracker pairs outbound operations with their acknowledgment events.
// Each entry resolves exactly once: the ack path, the error path, and the
// deadline path race, and the first to remove the entry wins.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]*pendingRequest)}
}

// Track registers a request under the given correlation id. When timeout
// elapses first, the request resolves with a fallback (TimedOut) value.
// The entry is registered before the timer is armed so that even an
// immediately-firing deadline finds it and clears it.
func (t *Tracker) Track(id string, timeout time.Duration) *Handle {
	req := &pendingRequest{ch: make(chan Resolution, 1)}

	t.mu.Lock()
	t.pending[id] = req
	req.timer = time.AfterFunc(timeout, func() {
		t.finish(id, Resolution{TimedOut: true})
	})
	t.mu.Unlock()

	return &Handle{id: id, ch: req.ch}
}

// Resolve completes a request with an acknowledgment payload. Returns
// false if the id is unknown or already resolved.
func (t *Tracker) Resolve(id string, payload json.RawMessage) bool {
	return t.finish(id, Resolution{Payload: payload})
}

// Fail completes a request with an explicit error. Returns false if the
// id is unknown or already resolved.
func (t *Tracker) Fail(id string, err error) bool {
	return t.finish(id, Resolution{Err: err})
}

// Len reports the number of requests still awaiting resolution.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) finish(id string, res Resolution) bool {
	t.mu.Lock()
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	req.timer.Stop()
	req.ch <- res
	return true
}
