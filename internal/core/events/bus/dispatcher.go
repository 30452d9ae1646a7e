// Package bus fans document snapshots out to registered listeners.
//
// The dispatcher is an owned registry per engine, not process-wide state:
// subscribe and cancel are deterministic and have no effect on queued
// batches. Delivery is synchronous in the publisher's goroutine, which is
// the engine's coordinating loop, so for any write the local snapshot is
// always observable before the remote snapshot that subsumes it.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/value"
	"github.com/driftsync/driftsync/internal/core/view"
)

// TimestampBehavior selects how a pending server timestamp renders in
// local snapshots. The resolver itself is policy-agnostic; the choice
// lives with the subscription.
type TimestampBehavior uint8

const (
	// TimestampNull renders pending server timestamps as explicit null.
	TimestampNull TimestampBehavior = iota
	// TimestampEstimate renders them as the batch's local write time.
	TimestampEstimate
)

// Snapshot is an immutable view of one document delivered to listeners.
type Snapshot struct {
	Key              document.Key
	Fields           map[string]value.Value
	Exists           bool
	HasPendingWrites bool
	// FromCache is true for optimistic local snapshots and false once the
	// value reflects the server-confirmed base.
	FromCache bool
}

// Handler consumes snapshots. Handlers receive deep copies and may retain
// them; they must not block the dispatching goroutine for long.
type Handler func(Snapshot)

// Options configures one subscription.
type Options struct {
	// IncludeMetadata re-delivers snapshots whose field values are
	// unchanged but whose metadata (pending writes, cache state) moved.
	IncludeMetadata bool
	// Timestamps picks the pending-server-timestamp rendering.
	Timestamps TimestampBehavior
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     string
	key    document.Key
	cancel func()
	mu     sync.Mutex
	active bool
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Key returns the document key the subscription watches.
func (s *Subscription) Key() document.Key { return s.key }

// IsActive reports whether the subscription still receives snapshots.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.mu.Unlock()
	if wasActive && s.cancel != nil {
		s.cancel()
	}
}

type entry struct {
	sub     *Subscription
	opts    Options
	handler Handler

	// last delivered state, used to suppress metadata-only redeliveries
	// when the subscription did not ask for them
	delivered  bool
	lastFields map[string]value.Value
	lastExists bool
	lastMeta   [2]bool // pending, fromCache
}

// Dispatcher is the per-engine snapshot fan-out point.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[document.Key]map[string]*entry
	logger log.Log
}

// NewDispatcher creates an empty registry.
func NewDispatcher(logger log.Log) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[document.Key]map[string]*entry),
		logger: logger,
	}
}

// Subscribe registers a handler for one document and returns its handle.
func (d *Dispatcher) Subscribe(key document.Key, opts Options, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	sub := &Subscription{id: id, key: key, active: true}
	sub.cancel = func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if m, ok := d.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(d.subs, key)
			}
		}
	}

	if d.subs[key] == nil {
		d.subs[key] = make(map[string]*entry)
	}
	d.subs[key][id] = &entry{sub: sub, opts: opts, handler: handler}

	d.logger.Debug("listener registered",
		log.String("key", key.String()),
		log.String("subscription", id))
	return sub
}

// DispatchLocal delivers an optimistic snapshot derived from the local
// view. Fired synchronously after any enqueue or reject that changes the
// view.
func (d *Dispatcher) DispatchLocal(v view.LocalView) {
	d.dispatch(v.Key, v.Fields, v.Exists, v.HasPendingWrites, true)
}

// DispatchRemote delivers a server-confirmed snapshot after the base
// document advanced from an acknowledgement or an external read.
func (d *Dispatcher) DispatchRemote(doc *document.Document, hasPendingWrites bool) {
	d.dispatch(doc.Key, doc.Fields, doc.Exists, hasPendingWrites, false)
}

// HasListeners reports whether any subscription watches the key.
func (d *Dispatcher) HasListeners(key document.Key) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[key]) > 0
}

func (d *Dispatcher) dispatch(key document.Key, fields map[string]value.Value, exists, pending, fromCache bool) {
	d.mu.Lock()
	entries := make([]*entry, 0, len(d.subs[key]))
	for _, e := range d.subs[key] {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	for _, e := range entries {
		rendered := RenderFields(fields, e.opts.Timestamps)

		same := e.delivered && e.lastExists == exists && value.Map(e.lastFields).Equal(value.Map(rendered))
		metaSame := e.lastMeta == [2]bool{pending, fromCache}
		if same && (metaSame || !e.opts.IncludeMetadata) {
			continue
		}

		e.delivered = true
		e.lastFields = rendered
		e.lastExists = exists
		e.lastMeta = [2]bool{pending, fromCache}

		if !e.sub.IsActive() {
			continue
		}
		e.handler(Snapshot{
			Key:              key,
			Fields:           value.CloneFields(rendered),
			Exists:           exists,
			HasPendingWrites: pending,
			FromCache:        fromCache,
		})
	}
}

// RenderFields deep-copies the fields, replacing pending-server-timestamp
// sentinels according to the behavior.
func RenderFields(fields map[string]value.Value, behavior TimestampBehavior) map[string]value.Value {
	out := make(map[string]value.Value, len(fields))
	for k, v := range fields {
		out[k] = renderValue(v, behavior)
	}
	return out
}

func renderValue(v value.Value, behavior TimestampBehavior) value.Value {
	switch v.Kind() {
	case value.KindPendingTimestamp:
		if behavior == TimestampEstimate {
			return value.Timestamp(v.Time())
		}
		return value.Null()
	case value.KindArray:
		elems := v.Values()
		out := make([]value.Value, len(elems))
		for i, e := range elems {
			out[i] = renderValue(e, behavior)
		}
		return value.Array(out...)
	case value.KindMap:
		return value.Map(RenderFields(v.Fields(), behavior))
	default:
		return v
	}
}
