package mutation

import (
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/value"
)

// Batch is an atomically submitted, ordered group of mutations sharing one
// batch id and one local write time. Batches are immutable once created;
// ids are assigned by the queue at enqueue time and totally order all
// pending writes.
type Batch struct {
	ID             int64      `json:"id"`
	LocalWriteTime time.Time  `json:"local_write_time"`
	Mutations      []Mutation `json:"mutations"`
}

// Keys returns the distinct document keys the batch touches, in first-use
// order.
func (b *Batch) Keys() []document.Key {
	seen := make(map[document.Key]struct{}, len(b.Mutations))
	keys := make([]document.Key, 0, len(b.Mutations))
	for _, m := range b.Mutations {
		if _, ok := seen[m.Key]; ok {
			continue
		}
		seen[m.Key] = struct{}{}
		keys = append(keys, m.Key)
	}
	return keys
}

// Touches reports whether any mutation in the batch targets the key.
func (b *Batch) Touches(key document.Key) bool {
	for _, m := range b.Mutations {
		if m.Key == key {
			return true
		}
	}
	return false
}

// Result carries the server's authoritative outcome for one committed
// batch: per mutation, the resolved value of each of its transforms in
// declared order, plus the commit version and commit time.
type Result struct {
	BatchID         int64           `json:"batch_id"`
	CommitVersion   int64           `json:"commit_version"`
	CommitTime      time.Time       `json:"commit_time"`
	MutationResults [][]value.Value `json:"mutation_results"`
}
