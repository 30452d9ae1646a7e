// Package reconcile advances document base values past server-committed
// batches using authoritative per-transform results.
//
// Acknowledgements are assumed to arrive in batch submission order; the
// transport contract guarantees in-order delivery, so no reorder buffer is
// kept here.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
)

// ErrMalformedAck reports an acknowledgement whose result shape does not
// match the batch it acknowledges. This is a fatal protocol condition:
// affected documents stop reconciling until Reset, since continuing would
// silently desynchronize local and remote state.
var ErrMalformedAck = errors.New("malformed acknowledgement")

// Reconciler applies committed batch results to base documents and tracks
// documents halted by protocol errors. It is owned by the engine's
// coordinating goroutine and carries no locking.
type Reconciler struct {
	halted map[document.Key]struct{}
	logger log.Log
}

// New creates a reconciler.
func New(logger log.Log) *Reconciler {
	return &Reconciler{
		halted: make(map[document.Key]struct{}),
		logger: logger,
	}
}

// Commit folds the server's resolved values for every mutation of the
// batch into the base documents, in the same structural way a local apply
// would, and advances their version to the commit version. Documents
// halted by an earlier protocol error are left untouched.
//
// A result-count mismatch halts every document the batch touches and
// returns ErrMalformedAck.
func (r *Reconciler) Commit(b *mutation.Batch, res *mutation.Result, docs map[document.Key]*document.Document) error {
	if len(res.MutationResults) != len(b.Mutations) {
		r.haltBatch(b)
		return fmt.Errorf("%w: batch %d has %d mutations, ack carries %d results",
			ErrMalformedAck, b.ID, len(b.Mutations), len(res.MutationResults))
	}

	for i, m := range b.Mutations {
		if r.IsHalted(m.Key) {
			continue
		}
		doc, ok := docs[m.Key]
		if !ok {
			doc = document.New(m.Key)
			docs[m.Key] = doc
		}
		if err := m.ApplyResults(doc.Fields, res.MutationResults[i]); err != nil {
			r.haltBatch(b)
			return fmt.Errorf("%w: batch %d mutation %d: %v", ErrMalformedAck, b.ID, i, err)
		}
		doc.Version = res.CommitVersion
		doc.Exists = true
	}

	r.logger.Debug("batch reconciled",
		log.Int64("batch_id", b.ID),
		log.Int64("commit_version", res.CommitVersion))
	return nil
}

// IsHalted reports whether reconciliation for the document is suspended by
// a protocol error.
func (r *Reconciler) IsHalted(key document.Key) bool {
	_, ok := r.halted[key]
	return ok
}

// Reset clears the halt for a document, explicitly re-enabling
// reconciliation after the caller has resolved the protocol failure.
func (r *Reconciler) Reset(key document.Key) {
	delete(r.halted, key)
}

func (r *Reconciler) haltBatch(b *mutation.Batch) {
	for _, key := range b.Keys() {
		r.halted[key] = struct{}{}
		r.logger.Error("reconciliation halted for document",
			log.String("key", key.String()),
			log.Int64("batch_id", b.ID))
	}
}
