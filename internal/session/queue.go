package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/heartlink/heartlink-realtime/internal/wire"
)

// PendingOperation is an outbound frame buffered while disconnected.
// It is immutable once enqueued; the payload is marshaled at enqueue time.
type PendingOperation struct {
	Event         string
	Data          json.RawMessage
	CorrelationID string
	EnqueuedAt    time.Time
}

// Envelope returns the wire frame for this operation.
func (op PendingOperation) Envelope() wire.Envelope {
	return wire.Envelope{Event: op.Event, Data: op.Data}
}

// OperationQueue buffers operations issued while disconnected, in FIFO
// order. It never deduplicates: repeated identical calls queue repeatedly.
type OperationQueue struct {
	mu  sync.Mutex
	ops []PendingOperation
}

// NewOperationQueue constructs an empty queue.
func NewOperationQueue() *OperationQueue {
	return &OperationQueue{}
}

// Enqueue appends an operation to the tail.
func (q *OperationQueue) Enqueue(op PendingOperation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

// Drain atomically removes and returns all buffered operations in
// submission order. Entries are consumed exactly once; a failed dispatch
// is reported through its correlation handle, never re-enqueued.
func (q *OperationQueue) Drain() []PendingOperation {
	q.mu.Lock()
	ops := q.ops
	q.ops = nil
	q.mu.Unlock()
	return ops
}

// Len reports the number of buffered operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
