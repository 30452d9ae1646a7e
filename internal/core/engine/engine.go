// Package engine coordinates the write path end to end: it owns the base
// documents, the pending queue, the reconciler and the snapshot
// dispatcher, and serializes every state change onto one goroutine.
//
// Concurrency model: public methods post closures onto a command channel
// consumed by a single coordinating loop, so the queue, document map and
// reconciler need no locking of their own. Batch submission runs on a
// separate sender goroutine feeding the transport in batch-id order;
// server events are consumed by the coordinating loop directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
	"github.com/driftsync/driftsync/internal/core/queue"
	"github.com/driftsync/driftsync/internal/core/reconcile"
	"github.com/driftsync/driftsync/internal/core/storage"
	"github.com/driftsync/driftsync/internal/core/value"
	"github.com/driftsync/driftsync/internal/core/view"
)

// Engine is the client-side mutation coordinator.
type Engine struct {
	config    Config
	logger    log.Log
	transport protocol.Transport
	store     storage.BaseStore

	commands chan func()
	outbound chan *mutation.Batch
	closed   chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error

	// state below is owned by the coordinating goroutine
	docs           map[document.Key]*document.Document
	queue          *queue.Queue
	reconciler     *reconcile.Reconciler
	dispatcher     *bus.Dispatcher
	pendingWrites  map[int64]*PendingWrite
	submitted      map[int64]struct{}
	networkEnabled bool
	stopping       bool
}

// New wires an engine to a transport and starts its goroutines. The
// engine owns the transport and the configured store; Close releases
// both.
func New(transport protocol.Transport, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = log.Provide()
	}

	outboundSize := config.QueueLimit
	if outboundSize <= 0 {
		outboundSize = 1024
	}

	e := &Engine{
		config:         config,
		logger:         logger,
		transport:      transport,
		store:          config.Store,
		commands:       make(chan func()),
		outbound:       make(chan *mutation.Batch, outboundSize),
		closed:         make(chan struct{}),
		done:           make(chan struct{}),
		docs:           make(map[document.Key]*document.Document),
		queue:          queue.New(config.QueueLimit),
		reconciler:     reconcile.New(logger),
		dispatcher:     bus.NewDispatcher(logger),
		pendingWrites:  make(map[int64]*PendingWrite),
		submitted:      make(map[int64]struct{}),
		networkEnabled: config.NetworkEnabled,
	}

	go e.run()
	go e.sender()
	return e
}

// Set enqueues a whole-document replacement.
func (e *Engine) Set(key document.Key, fields map[string]value.Value) (*PendingWrite, error) {
	return e.Write(mutation.NewSet(key, value.CloneFields(fields)))
}

// SetMerge enqueues a merge of the top-level fields into the document,
// leaving fields not named untouched.
func (e *Engine) SetMerge(key document.Key, fields map[string]value.Value) (*PendingWrite, error) {
	updates := make([]mutation.FieldUpdate, 0, len(fields))
	for name, v := range fields {
		updates = append(updates, mutation.FieldUpdate{Path: value.Path{name}, Value: v.Clone()})
	}
	return e.Write(mutation.NewPatch(key, updates))
}

// Update enqueues a sparse update built from the field changes.
func (e *Engine) Update(key document.Key, updates ...Update) (*PendingWrite, error) {
	m, err := buildPatch(key, updates)
	if err != nil {
		return nil, err
	}
	return e.Write(m)
}

// Write enqueues the mutations as one atomically committed batch. The
// local write time is captured once here so every mutation in the batch
// resolves estimates against the same instant.
func (e *Engine) Write(mutations ...mutation.Mutation) (*PendingWrite, error) {
	localWriteTime := time.Now()

	var pw *PendingWrite
	err := e.call(func() error {
		b, err := e.queue.Enqueue(localWriteTime, mutations)
		if err != nil {
			return err
		}
		pw = newPendingWrite(b.ID)
		e.pendingWrites[b.ID] = pw

		for _, key := range b.Keys() {
			e.publish(key)
		}
		if e.networkEnabled {
			e.handOff(b)
		}
		e.logger.Debug("batch enqueued",
			log.Int64("batch_id", b.ID),
			log.Int("mutations", len(mutations)),
			log.Bool("network", e.networkEnabled))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// Cancel withdraws a batch that has not been handed to the transport.
// Its pending write settles with ErrWriteCanceled and local views drop
// its contribution.
func (e *Engine) Cancel(batchID int64) error {
	return e.call(func() error {
		if _, ok := e.submitted[batchID]; ok {
			return ErrBatchInFlight
		}
		b, err := e.queue.Reject(batchID)
		if err != nil {
			return err
		}
		e.settle(batchID, ErrWriteCanceled)
		for _, key := range b.Keys() {
			e.publish(key)
		}
		return nil
	})
}

// SetNetworkEnabled toggles submission. Enabling flushes every pending
// batch not yet on the wire, in batch-id order.
func (e *Engine) SetNetworkEnabled(enabled bool) error {
	return e.call(func() error {
		if e.networkEnabled == enabled {
			return nil
		}
		e.networkEnabled = enabled
		if !enabled {
			return nil
		}
		for _, b := range e.queue.Pending() {
			if _, ok := e.submitted[b.ID]; !ok {
				e.handOff(b)
			}
		}
		return nil
	})
}

// Subscribe registers a snapshot listener for the document. No snapshot
// is delivered at registration; use Snapshot for the current state.
func (e *Engine) Subscribe(key document.Key, opts bus.Options, handler bus.Handler) (*bus.Subscription, error) {
	select {
	case <-e.closed:
		return nil, ErrEngineClosed
	default:
	}
	return e.dispatcher.Subscribe(key, opts, handler), nil
}

// Snapshot returns the current local view of the document, with pending
// server timestamps rendered according to the behavior.
func (e *Engine) Snapshot(key document.Key, timestamps bus.TimestampBehavior) (bus.Snapshot, error) {
	var snap bus.Snapshot
	err := e.call(func() error {
		doc := e.doc(key)
		v := view.BuildLocalView(doc, e.queue.PendingForKey(key))
		snap = bus.Snapshot{
			Key:              key,
			Fields:           bus.RenderFields(v.Fields, timestamps),
			Exists:           v.Exists,
			HasPendingWrites: v.HasPendingWrites,
			FromCache:        v.HasPendingWrites,
		}
		return nil
	})
	return snap, err
}

// ResetDocument clears a reconciliation halt caused by a malformed
// acknowledgement and republishes the document's current state.
func (e *Engine) ResetDocument(key document.Key) error {
	return e.call(func() error {
		e.reconciler.Reset(key)
		e.publish(key)
		return nil
	})
}

// PendingCount returns the number of batches awaiting acknowledgement.
func (e *Engine) PendingCount() (int, error) {
	var n int
	err := e.call(func() error {
		n = e.queue.Len()
		return nil
	})
	return n, err
}

// Close stops the coordinating loop, settles outstanding writes with
// ErrEngineClosed and releases the transport and store.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.call(func() error {
			e.stopping = true
			close(e.closed)
			for id, pw := range e.pendingWrites {
				pw.complete(ErrEngineClosed)
				delete(e.pendingWrites, id)
			}
			return nil
		})
		<-e.done
		close(e.outbound)

		e.closeErr = e.transport.Close()
		if e.store != nil {
			if err := e.store.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}

// call runs fn on the coordinating goroutine and returns its error.
func (e *Engine) call(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case e.commands <- func() { errCh <- fn() }:
	case <-e.closed:
		return ErrEngineClosed
	}
	// the command channel is unbuffered, so a successful send means the
	// loop is executing fn right now
	return <-errCh
}

func (e *Engine) run() {
	defer close(e.done)
	events := e.transport.Events()
	for {
		select {
		case fn := <-e.commands:
			fn()
			if e.stopping {
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(ev)
		}
	}
}

// sender drains the outbound channel in order. Submission failures roll
// the batch back through the coordinating loop.
func (e *Engine) sender() {
	for b := range e.outbound {
		if err := e.transport.Submit(context.Background(), b); err != nil {
			batch := b
			select {
			case e.commands <- func() { e.failSubmit(batch, err) }:
			case <-e.closed:
				return
			}
		}
	}
}

// handOff marks the batch in flight and queues it for submission. The
// channel is sized to the queue limit, so the send cannot block.
func (e *Engine) handOff(b *mutation.Batch) {
	e.submitted[b.ID] = struct{}{}
	select {
	case e.outbound <- b:
	default:
		// only reachable with an unbounded queue outgrowing the buffer;
		// leave the batch for the next SetNetworkEnabled flush
		delete(e.submitted, b.ID)
		e.logger.Warn("outbound buffer full, batch deferred", log.Int64("batch_id", b.ID))
	}
}

func (e *Engine) handleEvent(ev protocol.ServerEvent) {
	switch ev.Type {
	case protocol.EventAck:
		e.handleAck(ev)
	case protocol.EventReject:
		e.handleReject(ev)
	default:
		e.logger.Warn("unknown server event", log.Int64("batch_id", ev.BatchID))
	}
}

func (e *Engine) handleAck(ev protocol.ServerEvent) {
	b, err := e.queue.Acknowledge(ev.BatchID)
	if errors.Is(err, queue.ErrUnknownBatch) {
		// duplicate or stale ack, already settled
		e.logger.Debug("ignoring acknowledgement for unknown batch", log.Int64("batch_id", ev.BatchID))
		return
	}
	delete(e.submitted, b.ID)

	if ev.Result == nil {
		e.settle(b.ID, fmt.Errorf("%w: acknowledgement carries no result", reconcile.ErrMalformedAck))
		e.logger.Error("acknowledgement without result", log.Int64("batch_id", b.ID))
		return
	}

	if err := e.reconciler.Commit(b, ev.Result, e.docs); err != nil {
		// affected documents are halted; no snapshot goes out until the
		// application resolves the failure and calls ResetDocument
		e.settle(b.ID, err)
		return
	}

	for _, key := range b.Keys() {
		e.persist(key)
		e.publish(key)
	}
	e.settle(b.ID, nil)
}

func (e *Engine) handleReject(ev protocol.ServerEvent) {
	b, err := e.queue.Reject(ev.BatchID)
	if errors.Is(err, queue.ErrUnknownBatch) {
		e.logger.Debug("ignoring rejection for unknown batch", log.Int64("batch_id", ev.BatchID))
		return
	}
	delete(e.submitted, b.ID)

	e.settle(b.ID, fmt.Errorf("%w: %s", ErrBatchRejected, ev.Cause))
	e.logger.Warn("batch rejected",
		log.Int64("batch_id", b.ID),
		log.String("cause", ev.Cause))

	// the batch's optimistic contribution rolls back implicitly because
	// views are recomputed from the remaining pending batches
	for _, key := range b.Keys() {
		e.publish(key)
	}
}

// failSubmit rolls back a batch the transport could not carry.
func (e *Engine) failSubmit(b *mutation.Batch, cause error) {
	if _, err := e.queue.Reject(b.ID); err != nil {
		return
	}
	delete(e.submitted, b.ID)
	e.settle(b.ID, cause)
	e.logger.Error("batch submission failed",
		log.Int64("batch_id", b.ID),
		log.Error(cause))
	for _, key := range b.Keys() {
		e.publish(key)
	}
}

// settle completes the batch's pending write, if any remains.
func (e *Engine) settle(batchID int64, err error) {
	pw, ok := e.pendingWrites[batchID]
	if !ok {
		return
	}
	delete(e.pendingWrites, batchID)
	pw.complete(err)
}

// doc returns the owned base document for the key, loading it from the
// store on first touch.
func (e *Engine) doc(key document.Key) *document.Document {
	if d, ok := e.docs[key]; ok {
		return d
	}
	if e.store != nil {
		d, err := e.store.LoadBaseDocument(key)
		if err == nil {
			e.docs[key] = d
			return d
		}
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("failed to load base document",
				log.String("key", key.String()),
				log.Error(err))
		}
	}
	d := document.New(key)
	e.docs[key] = d
	return d
}

// persist writes the acknowledged base document through to the store.
func (e *Engine) persist(key document.Key) {
	if e.store == nil || e.reconciler.IsHalted(key) {
		return
	}
	if err := e.store.PersistAcknowledgedBase(e.doc(key)); err != nil {
		e.logger.Error("failed to persist base document",
			log.String("key", key.String()),
			log.Error(err))
	}
}

// publish delivers the document's current state to listeners: the local
// view while writes are pending, the confirmed base once none remain.
// Halted documents stay silent until ResetDocument.
func (e *Engine) publish(key document.Key) {
	if e.reconciler.IsHalted(key) {
		return
	}
	doc := e.doc(key)
	pending := e.queue.PendingForKey(key)
	if len(pending) == 0 {
		e.dispatcher.DispatchRemote(doc, false)
		return
	}
	e.dispatcher.DispatchLocal(view.BuildLocalView(doc, pending))
}
