// Package queue stores pending mutation batches in submission order.
//
// The queue is not safe for concurrent use on its own: per the engine's
// concurrency model every queue operation happens on the engine's single
// coordinating goroutine, so the queue carries no locking of its own.
package queue

import (
	"errors"
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

var (
	// ErrQueueFull is the resource-exhausted condition surfaced
	// synchronously to the writer; nothing is partially enqueued.
	ErrQueueFull = errors.New("mutation queue is full")
	// ErrUnknownBatch reports an acknowledge or reject for an id that is
	// not pending.
	ErrUnknownBatch = errors.New("unknown batch id")
	// ErrEmptyBatch reports an enqueue with no mutations.
	ErrEmptyBatch = errors.New("batch has no mutations")
)

// Queue holds pending batches ordered by strictly increasing batch id.
type Queue struct {
	limit   int
	nextID  int64
	batches []*mutation.Batch
}

// New creates a queue that holds at most limit pending batches. A limit of
// zero or less means unbounded.
func New(limit int) *Queue {
	return &Queue{limit: limit, nextID: 1}
}

// Enqueue creates a batch from the mutations, assigns the next batch id
// and appends it. The local write time is captured by the caller once per
// write so every mutation in the batch shares it.
func (q *Queue) Enqueue(localWriteTime time.Time, mutations []mutation.Mutation) (*mutation.Batch, error) {
	if len(mutations) == 0 {
		return nil, ErrEmptyBatch
	}
	if q.limit > 0 && len(q.batches) >= q.limit {
		return nil, ErrQueueFull
	}
	b := &mutation.Batch{
		ID:             q.nextID,
		LocalWriteTime: localWriteTime,
		Mutations:      mutations,
	}
	q.nextID++
	q.batches = append(q.batches, b)
	return b, nil
}

// Acknowledge removes the batch, returning it so the reconciler can
// advance document base values past it. Unknown ids (including duplicate
// acks) yield ErrUnknownBatch; the engine treats that as a no-op.
func (q *Queue) Acknowledge(batchID int64) (*mutation.Batch, error) {
	return q.remove(batchID)
}

// Reject discards the batch without any base value change. The values it
// contributed roll back implicitly because local views are recomputed from
// the remaining pending batches.
func (q *Queue) Reject(batchID int64) (*mutation.Batch, error) {
	return q.remove(batchID)
}

func (q *Queue) remove(batchID int64) (*mutation.Batch, error) {
	for i, b := range q.batches {
		if b.ID == batchID {
			q.batches = append(q.batches[:i], q.batches[i+1:]...)
			return b, nil
		}
	}
	return nil, ErrUnknownBatch
}

// Batch returns the pending batch with the id, if any.
func (q *Queue) Batch(batchID int64) (*mutation.Batch, bool) {
	for _, b := range q.batches {
		if b.ID == batchID {
			return b, true
		}
	}
	return nil, false
}

// PendingForKey returns the pending batches touching the key in batch-id
// order. The slice is rebuilt per call; batches themselves are shared and
// immutable.
func (q *Queue) PendingForKey(key document.Key) []*mutation.Batch {
	var out []*mutation.Batch
	for _, b := range q.batches {
		if b.Touches(key) {
			out = append(out, b)
		}
	}
	return out
}

// Pending returns all pending batches in batch-id order.
func (q *Queue) Pending() []*mutation.Batch {
	out := make([]*mutation.Batch, len(q.batches))
	copy(out, q.batches)
	return out
}

// Len returns the number of pending batches.
func (q *Queue) Len() int { return len(q.batches) }
