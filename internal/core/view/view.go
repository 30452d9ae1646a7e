// Package view derives the optimistic local document state from the
// server-confirmed base and the pending mutation queue.
//
// Views are always recomputed from scratch. Per-document field counts are
// small, so re-deriving on every queue change is cheaper to reason about
// than incremental patching and cannot drift out of sync.
package view

import (
	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/value"
)

// LocalView is the field state visible to the application before server
// confirmation. It is a derived snapshot, never persisted or mutated.
type LocalView struct {
	Key              document.Key
	Fields           map[string]value.Value
	Exists           bool
	HasPendingWrites bool
}

// BuildLocalView folds every pending batch's mutations for the document,
// strictly in batch-id order, onto a clone of the base value using the
// local resolver pass. Pure: the same base and pending set always produce
// the same view.
func BuildLocalView(doc *document.Document, pending []*mutation.Batch) LocalView {
	fields := value.CloneFields(doc.Fields)
	exists := doc.Exists
	hasPending := false

	for _, b := range pending {
		for _, m := range b.Mutations {
			if m.Key != doc.Key {
				continue
			}
			m.ApplyLocal(fields, b.LocalWriteTime)
			exists = true
			hasPending = true
		}
	}

	return LocalView{
		Key:              doc.Key,
		Fields:           fields,
		Exists:           exists,
		HasPendingWrites: hasPending,
	}
}
