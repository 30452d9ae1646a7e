package protocol

import (
	"context"
	"sync"

	"github.com/driftsync/driftsync/internal/core/mutation"
)

var _ Transport = (*Loopback)(nil)

// Loopback is an in-process transport that drives an Applier directly.
// Used by tests and the embedded example; it preserves submission order
// because Submit applies and queues the event synchronously.
type Loopback struct {
	applier Applier
	events  chan ServerEvent

	mu     sync.Mutex
	closed bool
}

// NewLoopback pairs a transport with a server-side applier.
func NewLoopback(applier Applier, buffer int) *Loopback {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loopback{
		applier: applier,
		events:  make(chan ServerEvent, buffer),
	}
}

// Submit applies the batch and queues the resulting ack or reject.
func (l *Loopback) Submit(_ context.Context, batch *mutation.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrTransportClosed
	}

	res, err := l.applier.Apply(batch)
	if err != nil {
		l.events <- ServerEvent{Type: EventReject, BatchID: batch.ID, Cause: err.Error()}
		return nil
	}
	l.events <- ServerEvent{Type: EventAck, BatchID: batch.ID, Result: res}
	return nil
}

// Events returns the ack/reject stream.
func (l *Loopback) Events() <-chan ServerEvent { return l.events }

// Close shuts the event stream down.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}
