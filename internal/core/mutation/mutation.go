// Package mutation models pending writes: single-document mutations and
// the atomically submitted batches that group them.
package mutation

import (
	"errors"
	"time"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/transform"
	"github.com/driftsync/driftsync/internal/core/value"
)

// ErrResultCountMismatch reports a server acknowledgement whose resolved
// value count does not line up with the mutation's transforms. This is the
// fatal protocol condition of the reconciler, not an ordinary rejection.
var ErrResultCountMismatch = errors.New("acknowledgement result count does not match transforms")

// Kind discriminates the two base value changes a mutation can carry.
type Kind uint8

const (
	// KindSet replaces the whole document value unconditionally.
	KindSet Kind = iota + 1
	// KindPatch merges a sparse set of field updates into the document.
	KindPatch
)

// FieldUpdate is one concrete value written by a patch mutation. Deletes
// are expressed as Delete field transforms, not as updates.
type FieldUpdate struct {
	Path  value.Path  `json:"path"`
	Value value.Value `json:"value"`
}

// Mutation targets exactly one document: a base value change plus zero or
// more field transforms layered on top of it. Transforms are applied in
// declared order, each seeing the effect of the previous one.
type Mutation struct {
	Key        document.Key               `json:"key"`
	Kind       Kind                       `json:"kind"`
	Fields     map[string]value.Value     `json:"fields,omitempty"`  // set only
	Updates    []FieldUpdate              `json:"updates,omitempty"` // patch only
	Transforms []transform.FieldTransform `json:"transforms,omitempty"`
}

// NewSet returns a whole-document replacement mutation.
func NewSet(key document.Key, fields map[string]value.Value, transforms ...transform.FieldTransform) Mutation {
	return Mutation{
		Key:        key,
		Kind:       KindSet,
		Fields:     fields,
		Transforms: transforms,
	}
}

// NewPatch returns a sparse merge mutation.
func NewPatch(key document.Key, updates []FieldUpdate, transforms ...transform.FieldTransform) Mutation {
	return Mutation{
		Key:        key,
		Kind:       KindPatch,
		Updates:    updates,
		Transforms: transforms,
	}
}

// applyBase applies the value-overwrite part of the mutation in place.
func (m Mutation) applyBase(fields map[string]value.Value) {
	switch m.Kind {
	case KindSet:
		for k := range fields {
			delete(fields, k)
		}
		for k, v := range m.Fields {
			fields[k] = v.Clone()
		}
	case KindPatch:
		for _, u := range m.Updates {
			value.SetField(fields, u.Path, u.Value.Clone())
		}
	}
}

// ApplyLocal folds the mutation into a local field map using the
// optimistic resolver pass. The map is modified in place; callers pass a
// clone of shared state.
func (m Mutation) ApplyLocal(fields map[string]value.Value, localWriteTime time.Time) {
	m.applyBase(fields)
	for _, ft := range m.Transforms {
		prior := value.GetField(fields, ft.Path)
		value.SetField(fields, ft.Path, transform.ResolveLocal(ft.Transform, prior, localWriteTime))
	}
}

// ApplyServer folds the mutation authoritatively and returns the resolved
// value of each transform in declared order. Used by the relay server to
// build acknowledgements.
func (m Mutation) ApplyServer(fields map[string]value.Value, serverTime time.Time) []value.Value {
	m.applyBase(fields)
	results := make([]value.Value, len(m.Transforms))
	for i, ft := range m.Transforms {
		prior := value.GetField(fields, ft.Path)
		resolved := transform.ResolveServer(ft.Transform, prior, serverTime)
		results[i] = resolved
		value.SetField(fields, ft.Path, resolved)
	}
	return results
}

// ApplyResults folds the mutation using server-resolved transform values
// instead of estimates. This is the reconciler's path to convergence.
func (m Mutation) ApplyResults(fields map[string]value.Value, results []value.Value) error {
	if len(results) != len(m.Transforms) {
		return ErrResultCountMismatch
	}
	m.applyBase(fields)
	for i, ft := range m.Transforms {
		value.SetField(fields, ft.Path, results[i])
	}
	return nil
}
