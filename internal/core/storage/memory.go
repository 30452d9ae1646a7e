package storage

import (
	"sync"

	"github.com/driftsync/driftsync/internal/core/document"
)

var _ BaseStore = (*MemoryStore)(nil)

// MemoryStore is the in-memory BaseStore used by tests and clients that
// opt out of durability.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[document.Key]*document.Document
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[document.Key]*document.Document)}
}

func (s *MemoryStore) LoadBaseDocument(key document.Key) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) PersistAcknowledgedBase(doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Key] = doc.Clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
