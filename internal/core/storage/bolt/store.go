// Package bolt persists acknowledged base documents in a bbolt file, one
// bucket per collection.
package bolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/storage"
	"github.com/driftsync/driftsync/internal/core/value"
)

var _ storage.BaseStore = (*Store)(nil)

// Store is the bbolt-backed BaseStore.
type Store struct {
	db *bbolt.DB
}

// record is the stored form of one base document.
type record struct {
	Fields  json.RawMessage `json:"fields"`
	Version int64           `json:"version"`
	Exists  bool            `json:"exists"`
}

// Open opens (or creates) the database file.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadBaseDocument reads the persisted base for the key.
func (s *Store) LoadBaseDocument(key document.Key) (*document.Document, error) {
	var rec *record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key.Collection))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key.ID))
		if raw == nil {
			return nil
		}
		rec = &record{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load base document: %w", err)
	}
	if rec == nil {
		return nil, storage.ErrNotFound
	}

	fields, err := value.UnmarshalFields(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base document fields: %w", err)
	}
	return &document.Document{
		Key:     key,
		Fields:  fields,
		Version: rec.Version,
		Exists:  rec.Exists,
	}, nil
}

// PersistAcknowledgedBase writes the base document, creating the
// collection bucket on first use.
func (s *Store) PersistAcknowledgedBase(doc *document.Document) error {
	fields, err := value.MarshalFields(doc.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode base document fields: %w", err)
	}
	raw, err := json.Marshal(record{
		Fields:  fields,
		Version: doc.Version,
		Exists:  doc.Exists,
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(doc.Key.Collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}
		return b.Put([]byte(doc.Key.ID), raw)
	})
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
