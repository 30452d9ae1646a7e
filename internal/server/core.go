// Package server implements the relay: the authoritative side of the sync
// protocol. It applies submitted batches with the server resolver pass,
// assigns commit versions and real server timestamps, and answers with
// per-mutation resolved values.
package server

import (
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
	"github.com/driftsync/driftsync/internal/core/value"
)

var _ protocol.Applier = (*Core)(nil)

// Core holds the authoritative document state. Batches apply atomically
// under one lock; the commit version is a single monotonic counter across
// all documents.
type Core struct {
	mu      sync.Mutex
	docs    map[document.Key]*document.Document
	version int64
	logger  log.Log

	// now is the commit clock; replaceable in tests.
	now func() time.Time
}

// NewCore creates an empty authoritative store.
func NewCore(logger log.Log) *Core {
	return &Core{
		docs:   make(map[document.Key]*document.Document),
		logger: logger,
		now:    time.Now,
	}
}

// Apply commits one batch: every mutation folds into its target document
// using the authoritative resolver pass, all under the same commit version
// and commit time. Returns the per-mutation resolved transform values the
// client's reconciler converges on.
func (c *Core) Apply(b *mutation.Batch) (*mutation.Result, error) {
	for _, m := range b.Mutations {
		if m.Key.IsZero() {
			return nil, ErrInvalidBatch
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	commitTime := c.now()

	results := make([][]value.Value, len(b.Mutations))
	for i, m := range b.Mutations {
		doc, ok := c.docs[m.Key]
		if !ok {
			doc = document.New(m.Key)
			c.docs[m.Key] = doc
		}
		results[i] = m.ApplyServer(doc.Fields, commitTime)
		doc.Version = c.version
		doc.Exists = true
	}

	c.logger.Debug("batch committed",
		log.Int64("batch_id", b.ID),
		log.Int64("commit_version", c.version),
		log.Int("mutations", len(b.Mutations)))

	return &mutation.Result{
		BatchID:         b.ID,
		CommitVersion:   c.version,
		CommitTime:      commitTime,
		MutationResults: results,
	}, nil
}

// Document returns a clone of the authoritative state for the key.
func (c *Core) Document(key document.Key) (*document.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[key]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}
