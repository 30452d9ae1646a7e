// Package storage defines the persistence collaborator: durable storage
// for server-acknowledged base documents. Pending batches are never
// persisted here; the local view is always re-derived from base plus the
// in-memory queue.
package storage

import (
	"errors"

	"github.com/driftsync/driftsync/internal/core/document"
)

// ErrNotFound reports a key with no persisted base document.
var ErrNotFound = errors.New("base document not found")

// BaseStore loads and persists acknowledged base documents.
type BaseStore interface {
	// LoadBaseDocument returns the persisted base for the key, or
	// ErrNotFound.
	LoadBaseDocument(key document.Key) (*document.Document, error)
	// PersistAcknowledgedBase durably records a base document after the
	// reconciler advanced it past an acknowledged batch.
	PersistAcknowledgedBase(doc *document.Document) error

	Close() error
}
