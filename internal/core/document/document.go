// Package document defines the per-document base state the engine
// reconciles against server-committed results.
package document

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/driftsync/driftsync/internal/core/value"
)

// ErrInvalidKey reports a malformed document key.
var ErrInvalidKey = errors.New("invalid document key")

// Key identifies one document inside a collection. Its string form is
// "collection/id".
type Key struct {
	Collection string
	ID         string
}

// ParseKey parses the "collection/id" form.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, ErrInvalidKey
	}
	return Key{Collection: parts[0], ID: parts[1]}, nil
}

// String returns the "collection/id" form.
func (k Key) String() string { return k.Collection + "/" + k.ID }

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool { return k.Collection == "" && k.ID == "" }

// MarshalJSON encodes the key in its "collection/id" string form.
func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes the "collection/id" string form.
func (k *Key) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Document holds the last-known server-confirmed base value of one
// document plus the version marker used to detect staleness. A document
// with Exists == false has never been confirmed by the server.
type Document struct {
	Key     Key
	Fields  map[string]value.Value
	Version int64
	Exists  bool
}

// New returns a missing document for the key.
func New(key Key) *Document {
	return &Document{Key: key, Fields: map[string]value.Value{}}
}

// Clone deep-copies the document so callbacks can hold snapshots without
// observing later reconciliation.
func (d *Document) Clone() *Document {
	return &Document{
		Key:     d.Key,
		Fields:  value.CloneFields(d.Fields),
		Version: d.Version,
		Exists:  d.Exists,
	}
}
