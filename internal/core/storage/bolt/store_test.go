package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/storage"
	"github.com/driftsync/driftsync/internal/core/value"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "base.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPersistAndLoad(t *testing.T) {
	s := openTestStore(t)
	key := document.Key{Collection: "rooms", ID: "eros"}

	doc := document.New(key)
	doc.Fields["count"] = value.Integer(42)
	doc.Fields["nested"] = value.Map(map[string]value.Value{"x": value.Double(0.5)})
	doc.Version = 7
	doc.Exists = true

	require.NoError(t, s.PersistAcknowledgedBase(doc))

	loaded, err := s.LoadBaseDocument(key)
	require.NoError(t, err)
	require.Equal(t, int64(7), loaded.Version)
	require.True(t, loaded.Exists)
	require.True(t, value.Map(doc.Fields).Equal(value.Map(loaded.Fields)))
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadBaseDocument(document.Key{Collection: "rooms", ID: "nope"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersistOverwrites(t *testing.T) {
	s := openTestStore(t)
	key := document.Key{Collection: "rooms", ID: "eros"}

	first := document.New(key)
	first.Fields["count"] = value.Integer(1)
	first.Version = 1
	first.Exists = true
	require.NoError(t, s.PersistAcknowledgedBase(first))

	second := document.New(key)
	second.Fields["count"] = value.Integer(2)
	second.Version = 2
	second.Exists = true
	require.NoError(t, s.PersistAcknowledgedBase(second))

	loaded, err := s.LoadBaseDocument(key)
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version)
	require.True(t, value.Integer(2).Equal(loaded.Fields["count"]))
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := openTestStore(t)

	doc := document.New(document.Key{Collection: "rooms", ID: "eros"})
	doc.Exists = true
	require.NoError(t, s.PersistAcknowledgedBase(doc))

	_, err := s.LoadBaseDocument(document.Key{Collection: "users", ID: "eros"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}
