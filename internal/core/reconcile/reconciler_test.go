package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/transform"
	"github.com/driftsync/driftsync/internal/core/value"
)

var (
	roomKey   = document.Key{Collection: "rooms", ID: "eros"}
	writeTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func incrementBatch(id int64) *mutation.Batch {
	return &mutation.Batch{
		ID:             id,
		LocalWriteTime: writeTime,
		Mutations: []mutation.Mutation{
			mutation.NewPatch(roomKey, nil, transform.FieldTransform{
				Path:      value.MustParsePath("count"),
				Transform: transform.Increment(value.Integer(1)),
			}),
		},
	}
}

func TestCommitAdvancesBase(t *testing.T) {
	r := New(log.Nop())
	doc := document.New(roomKey)
	doc.Fields["count"] = value.Integer(41)
	doc.Exists = true
	docs := map[document.Key]*document.Document{roomKey: doc}

	res := &mutation.Result{
		BatchID:         1,
		CommitVersion:   9,
		CommitTime:      writeTime.Add(time.Second),
		MutationResults: [][]value.Value{{value.Integer(42)}},
	}

	require.NoError(t, r.Commit(incrementBatch(1), res, docs))
	require.True(t, value.Integer(42).Equal(doc.Fields["count"]))
	require.Equal(t, int64(9), doc.Version)
}

func TestCommitCreatesMissingDocument(t *testing.T) {
	r := New(log.Nop())
	docs := map[document.Key]*document.Document{}

	res := &mutation.Result{
		BatchID:         1,
		CommitVersion:   1,
		MutationResults: [][]value.Value{{value.Integer(1)}},
	}

	require.NoError(t, r.Commit(incrementBatch(1), res, docs))
	doc := docs[roomKey]
	require.NotNil(t, doc)
	require.True(t, doc.Exists)
	require.True(t, value.Integer(1).Equal(doc.Fields["count"]))
}

func TestMalformedAckHaltsDocument(t *testing.T) {
	r := New(log.Nop())
	doc := document.New(roomKey)
	doc.Fields["count"] = value.Integer(5)
	docs := map[document.Key]*document.Document{roomKey: doc}

	// Ack carries no mutation results at all.
	bad := &mutation.Result{BatchID: 1, CommitVersion: 2}
	err := r.Commit(incrementBatch(1), bad, docs)
	require.ErrorIs(t, err, ErrMalformedAck)
	require.True(t, r.IsHalted(roomKey))

	// Base untouched by the malformed ack.
	require.True(t, value.Integer(5).Equal(doc.Fields["count"]))

	// Further well-formed commits are skipped while halted.
	good := &mutation.Result{
		BatchID:         2,
		CommitVersion:   3,
		MutationResults: [][]value.Value{{value.Integer(6)}},
	}
	require.NoError(t, r.Commit(incrementBatch(2), good, docs))
	require.True(t, value.Integer(5).Equal(doc.Fields["count"]))

	// Reset explicitly re-enables reconciliation.
	r.Reset(roomKey)
	require.False(t, r.IsHalted(roomKey))
	good.BatchID = 3
	require.NoError(t, r.Commit(incrementBatch(3), good, docs))
	require.True(t, value.Integer(6).Equal(doc.Fields["count"]))
}

func TestMismatchedTransformCountHalts(t *testing.T) {
	r := New(log.Nop())
	docs := map[document.Key]*document.Document{}

	res := &mutation.Result{
		BatchID:         1,
		CommitVersion:   1,
		MutationResults: [][]value.Value{{value.Integer(1), value.Integer(2)}},
	}

	err := r.Commit(incrementBatch(1), res, docs)
	require.ErrorIs(t, err, ErrMalformedAck)
	require.True(t, r.IsHalted(roomKey))
}
