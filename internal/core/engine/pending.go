package engine

import "context"

// PendingWrite tracks one enqueued batch until the server settles it. The
// local effect of the write is visible through snapshots immediately; the
// handle only reports the authoritative outcome.
type PendingWrite struct {
	batchID int64
	done    chan struct{}
	err     error // written once before done closes
}

func newPendingWrite(batchID int64) *PendingWrite {
	return &PendingWrite{batchID: batchID, done: make(chan struct{})}
}

// BatchID returns the id assigned at enqueue time.
func (p *PendingWrite) BatchID() int64 { return p.batchID }

// Done is closed once the write is acknowledged, rejected, canceled or the
// engine shuts down.
func (p *PendingWrite) Done() <-chan struct{} { return p.done }

// Err returns the outcome after Done is closed: nil for an acknowledged
// commit, otherwise the failure.
func (p *PendingWrite) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Await blocks until the write settles or the context ends.
func (p *PendingWrite) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete settles the handle. Only the engine's coordinating goroutine
// calls it, exactly once per handle.
func (p *PendingWrite) complete(err error) {
	p.err = err
	close(p.done)
}
