// Package protocol defines the network collaborator boundary: how batches
// travel to the server and how acknowledgements stream back.
//
// The engine assumes acknowledgements and rejections arrive in batch
// submission order; every transport in this package preserves that order.
package protocol

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
)

// EventType discriminates server events.
type EventType uint8

const (
	// EventAck confirms a committed batch with authoritative results.
	EventAck EventType = iota + 1
	// EventReject reports a batch the server refused; nothing was applied.
	EventReject
)

// ServerEvent is one acknowledgement or rejection delivered upstream of
// the reconciler.
type ServerEvent struct {
	Type    EventType
	BatchID int64
	Result  *mutation.Result // ack only
	Cause   string           // reject only
}

// Transport carries batches to the server and streams events back.
// Implementations must deliver events in batch submission order and close
// the Events channel when the transport shuts down.
type Transport interface {
	// Submit hands one batch to the server. It returns once the batch is
	// on the wire; the outcome arrives later on Events.
	Submit(ctx context.Context, batch *mutation.Batch) error
	// Events streams acknowledgements and rejections.
	Events() <-chan ServerEvent
	// Close tears the transport down and closes the event stream.
	Close() error
}

// Applier is the server-side contract: apply one batch atomically and
// return the authoritative per-mutation results, or an error to reject
// the batch.
type Applier interface {
	Apply(batch *mutation.Batch) (*mutation.Result, error)
}

// TargetID derives the stable 64-bit watch target id for a document key,
// carried in wire frames for routing and log correlation.
func TargetID(key document.Key) uint64 {
	return xxhash.Sum64String(key.String())
}
