package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/protocol"
	"github.com/driftsync/driftsync/internal/core/queue"
	"github.com/driftsync/driftsync/internal/core/reconcile"
	"github.com/driftsync/driftsync/internal/core/storage"
	"github.com/driftsync/driftsync/internal/core/value"
	"github.com/driftsync/driftsync/internal/server"
)

var testKey = document.Key{Collection: "rooms", ID: "eros"}

func newTestEngine(t *testing.T, config Config) (*Engine, *server.Core) {
	t.Helper()
	core := server.NewCore(log.Nop())
	config.Logger = log.Nop()
	e := New(protocol.NewLoopback(core, 16), config)
	t.Cleanup(func() { _ = e.Close() })
	return e, core
}

func await(t *testing.T, pw *PendingWrite) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := pw.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func listen(t *testing.T, e *Engine, key document.Key, opts bus.Options) <-chan bus.Snapshot {
	t.Helper()
	snaps := make(chan bus.Snapshot, 32)
	_, err := e.Subscribe(key, opts, func(s bus.Snapshot) { snaps <- s })
	require.NoError(t, err)
	return snaps
}

func nextSnapshot(t *testing.T, snaps <-chan bus.Snapshot) bus.Snapshot {
	t.Helper()
	select {
	case s := <-snaps:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return bus.Snapshot{}
	}
}

func requireNoSnapshot(t *testing.T, snaps <-chan bus.Snapshot) {
	t.Helper()
	select {
	case s := <-snaps:
		t.Fatalf("unexpected snapshot: %+v", s)
	default:
	}
}

func TestWriteConvergesWithServer(t *testing.T) {
	e, core := newTestEngine(t, DefaultConfig())

	pw, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)
	require.NoError(t, await(t, pw))

	pw, err = e.Update(testKey, Increment("count", value.Integer(2)))
	require.NoError(t, err)
	require.NoError(t, await(t, pw))

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	require.False(t, snap.HasPendingWrites)
	require.True(t, value.Integer(3).Equal(snap.Fields["count"]))

	remote, ok := core.Document(testKey)
	require.True(t, ok)
	require.True(t, value.Map(remote.Fields).Equal(value.Map(snap.Fields)))

	n, err := e.PendingCount()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConcurrentIncrementsAccumulate(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	first, err := e.Update(testKey, Increment("count", value.Integer(1)))
	require.NoError(t, err)
	second, err := e.Update(testKey, Increment("count", value.Integer(1)))
	require.NoError(t, err)

	require.NoError(t, await(t, first))
	require.NoError(t, await(t, second))

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.True(t, value.Integer(2).Equal(snap.Fields["count"]))
}

func TestOfflineIncrementsCoalesce(t *testing.T) {
	config := DefaultConfig()
	config.NetworkEnabled = false
	e, _ := newTestEngine(t, config)

	snaps := listen(t, e, testKey, bus.Options{IncludeMetadata: true})

	writes := make([]*PendingWrite, 0, 3)
	for _, by := range []float64{0.1, 0.01, 0.001} {
		pw, err := e.Update(testKey, Increment("score", value.Double(by)))
		require.NoError(t, err)
		writes = append(writes, pw)
	}

	for i, want := range []float64{0.1, 0.11, 0.111} {
		s := nextSnapshot(t, snaps)
		require.True(t, s.FromCache, "snapshot %d", i)
		require.True(t, s.HasPendingWrites, "snapshot %d", i)
		require.InDelta(t, want, s.Fields["score"].Float(), 1e-9)
	}

	require.NoError(t, e.SetNetworkEnabled(true))
	for _, pw := range writes {
		require.NoError(t, await(t, pw))
	}

	// intermediate acknowledgements leave the rendered value unchanged, so
	// the only delivery after going online is the settled remote snapshot
	final := nextSnapshot(t, snaps)
	require.False(t, final.FromCache)
	require.False(t, final.HasPendingWrites)
	require.InDelta(t, 0.111, final.Fields["score"].Float(), 1e-9)
	requireNoSnapshot(t, snaps)
}

func TestIncrementOverPendingTimestamp(t *testing.T) {
	config := DefaultConfig()
	config.NetworkEnabled = false
	e, _ := newTestEngine(t, config)

	_, err := e.Update(testKey, ServerTimestamp("updated"))
	require.NoError(t, err)

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.Equal(t, value.KindNull, snap.Fields["updated"].Kind())

	estimate, err := e.Snapshot(testKey, bus.TimestampEstimate)
	require.NoError(t, err)
	require.Equal(t, value.KindTimestamp, estimate.Fields["updated"].Kind())

	// a pending timestamp is not numeric, so the increment discards it
	_, err = e.Update(testKey, Increment("updated", value.Integer(1)))
	require.NoError(t, err)

	snap, err = e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.True(t, value.Integer(1).Equal(snap.Fields["updated"]))
}

func TestLocalSnapshotPrecedesRemote(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	snaps := listen(t, e, testKey, bus.Options{IncludeMetadata: true})

	pw, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)

	local := nextSnapshot(t, snaps)
	require.True(t, local.FromCache)
	require.True(t, local.HasPendingWrites)
	require.True(t, value.Integer(1).Equal(local.Fields["count"]))

	require.NoError(t, await(t, pw))

	remote := nextSnapshot(t, snaps)
	require.False(t, remote.FromCache)
	require.False(t, remote.HasPendingWrites)
	require.True(t, value.Integer(1).Equal(remote.Fields["count"]))
}

func TestQueueFull(t *testing.T) {
	config := DefaultConfig()
	config.QueueLimit = 1
	config.NetworkEnabled = false
	e, _ := newTestEngine(t, config)

	_, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)

	_, err = e.Set(testKey, map[string]value.Value{"count": value.Integer(2)})
	require.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestCancelBeforeSubmission(t *testing.T) {
	config := DefaultConfig()
	config.NetworkEnabled = false
	e, _ := newTestEngine(t, config)

	pw, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(pw.BatchID()))
	require.ErrorIs(t, await(t, pw), ErrWriteCanceled)

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.False(t, snap.Exists)

	require.ErrorIs(t, e.Cancel(pw.BatchID()), queue.ErrUnknownBatch)
}

func TestCancelAfterHandoff(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, Config{QueueLimit: 8, NetworkEnabled: true, Logger: log.Nop()})
	t.Cleanup(func() { _ = e.Close() })

	pw, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.ErrorIs(t, e.Cancel(pw.BatchID()), ErrBatchInFlight)
}

func TestRejectedBatchRollsBack(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	pw, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)
	require.NoError(t, await(t, pw))

	// a batch naming a zero key is refused by the server as a whole
	bad, err := e.Write(
		mutation.NewSet(testKey, map[string]value.Value{"count": value.Integer(9)}),
		mutation.NewSet(document.Key{}, map[string]value.Value{"x": value.Integer(1)}),
	)
	require.NoError(t, err)
	require.ErrorIs(t, await(t, bad), ErrBatchRejected)

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.False(t, snap.HasPendingWrites)
	require.True(t, value.Integer(1).Equal(snap.Fields["count"]))
}

func TestDuplicateAckIgnored(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, Config{QueueLimit: 8, NetworkEnabled: true, Logger: log.Nop()})
	t.Cleanup(func() { _ = e.Close() })

	first, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 },
		time.Second, 5*time.Millisecond)

	ack := protocol.ServerEvent{
		Type:    protocol.EventAck,
		BatchID: first.BatchID(),
		Result: &mutation.Result{
			BatchID:         first.BatchID(),
			CommitVersion:   1,
			CommitTime:      time.Now(),
			MutationResults: [][]value.Value{{}},
		},
	}
	tr.emit(ack)
	require.NoError(t, await(t, first))
	tr.emit(ack)

	second, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(2)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.submittedCount() == 2 },
		time.Second, 5*time.Millisecond)
	tr.emit(protocol.ServerEvent{
		Type:    protocol.EventAck,
		BatchID: second.BatchID(),
		Result: &mutation.Result{
			BatchID:         second.BatchID(),
			CommitVersion:   2,
			CommitTime:      time.Now(),
			MutationResults: [][]value.Value{{}},
		},
	})
	require.NoError(t, await(t, second))

	snap, err := e.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.True(t, value.Integer(2).Equal(snap.Fields["count"]))
}

func TestMalformedAckHaltsDocument(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, Config{QueueLimit: 8, NetworkEnabled: true, Logger: log.Nop()})
	t.Cleanup(func() { _ = e.Close() })

	snaps := listen(t, e, testKey, bus.Options{})

	pw, err := e.Update(testKey, Increment("count", value.Integer(1)))
	require.NoError(t, err)
	nextSnapshot(t, snaps) // optimistic delivery
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 },
		time.Second, 5*time.Millisecond)

	// result count does not match the batch's mutations
	tr.emit(protocol.ServerEvent{
		Type:    protocol.EventAck,
		BatchID: pw.BatchID(),
		Result: &mutation.Result{
			BatchID:         pw.BatchID(),
			CommitVersion:   1,
			CommitTime:      time.Now(),
			MutationResults: [][]value.Value{},
		},
	})
	require.ErrorIs(t, await(t, pw), reconcile.ErrMalformedAck)
	requireNoSnapshot(t, snaps)

	// the halted document stays silent even for new optimistic writes
	_, err = e.Update(testKey, Increment("count", value.Integer(1)))
	require.NoError(t, err)
	requireNoSnapshot(t, snaps)

	require.NoError(t, e.ResetDocument(testKey))
	s := nextSnapshot(t, snaps)
	require.True(t, s.FromCache)
	require.True(t, value.Integer(1).Equal(s.Fields["count"]))
}

func TestBaseSurvivesRestart(t *testing.T) {
	store := storage.NewMemoryStore()
	core := server.NewCore(log.Nop())

	e1 := New(protocol.NewLoopback(core, 16), Config{
		QueueLimit: 8, NetworkEnabled: true, Store: store, Logger: log.Nop(),
	})
	pw, err := e1.Set(testKey, map[string]value.Value{"count": value.Integer(5)})
	require.NoError(t, err)
	require.NoError(t, await(t, pw))
	require.NoError(t, e1.Close())

	e2 := New(protocol.NewLoopback(core, 16), Config{
		QueueLimit: 8, NetworkEnabled: true, Store: store, Logger: log.Nop(),
	})
	t.Cleanup(func() { _ = e2.Close() })

	snap, err := e2.Snapshot(testKey, bus.TimestampNull)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	require.True(t, value.Integer(5).Equal(snap.Fields["count"]))
}

func TestWriteBatchCommitsAtomically(t *testing.T) {
	e, core := newTestEngine(t, DefaultConfig())
	other := document.Key{Collection: "rooms", ID: "ceres"}

	pw, err := e.NewWriteBatch().
		Set(testKey, map[string]value.Value{"count": value.Integer(1)}).
		Update(other, Increment("count", value.Integer(7))).
		Commit()
	require.NoError(t, err)
	require.NoError(t, await(t, pw))

	a, ok := core.Document(testKey)
	require.True(t, ok)
	b, ok := core.Document(other)
	require.True(t, ok)
	require.Equal(t, a.Version, b.Version)
	require.True(t, value.Integer(7).Equal(b.Fields["count"]))
}

func TestOperationsAfterClose(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Close())

	_, err := e.Set(testKey, map[string]value.Value{"count": value.Integer(1)})
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Snapshot(testKey, bus.TimestampNull)
	require.ErrorIs(t, err, ErrEngineClosed)
	require.ErrorIs(t, e.SetNetworkEnabled(false), ErrEngineClosed)
}

// fakeTransport records submissions and lets tests script server events.
type fakeTransport struct {
	events chan protocol.ServerEvent

	mu        sync.Mutex
	submitted []*mutation.Batch
	closed    bool
}

var _ protocol.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan protocol.ServerEvent, 16)}
}

func (f *fakeTransport) Submit(_ context.Context, b *mutation.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, b)
	return nil
}

func (f *fakeTransport) Events() <-chan protocol.ServerEvent { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) emit(ev protocol.ServerEvent) { f.events <- ev }

func (f *fakeTransport) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
