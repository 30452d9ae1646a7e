package engine

import (
	"fmt"

	"github.com/driftsync/driftsync/internal/core/document"
	"github.com/driftsync/driftsync/internal/core/mutation"
	"github.com/driftsync/driftsync/internal/core/transform"
	"github.com/driftsync/driftsync/internal/core/value"
)

// Update describes one field change within an update write: either a
// concrete value or a field transform. Changes apply in declared order.
type Update struct {
	path      string
	setValue  *value.Value
	transform *transform.Transform
}

// SetValue writes a concrete value at the path.
func SetValue(path string, v value.Value) Update {
	return Update{path: path, setValue: &v}
}

// ApplyTransform binds an arbitrary transform to the path.
func ApplyTransform(path string, t transform.Transform) Update {
	return Update{path: path, transform: &t}
}

// Increment adds the numeric operand to the field.
func Increment(path string, operand value.Value) Update {
	return ApplyTransform(path, transform.Increment(operand))
}

// ServerTimestamp sets the field to the server's commit time.
func ServerTimestamp(path string) Update {
	return ApplyTransform(path, transform.ServerTimestamp())
}

// DeleteField removes the field.
func DeleteField(path string) Update {
	return ApplyTransform(path, transform.Delete())
}

// ArrayUnion appends elements not already present in the field's array.
func ArrayUnion(path string, elements ...value.Value) Update {
	return ApplyTransform(path, transform.ArrayUnion(elements...))
}

// ArrayRemove removes all matching elements from the field's array.
func ArrayRemove(path string, elements ...value.Value) Update {
	return ApplyTransform(path, transform.ArrayRemove(elements...))
}

// buildPatch compiles updates into a single patch mutation. Concrete
// values become field updates, transforms keep their declared order.
func buildPatch(key document.Key, updates []Update) (mutation.Mutation, error) {
	if len(updates) == 0 {
		return mutation.Mutation{}, ErrNoUpdates
	}

	var fieldUpdates []mutation.FieldUpdate
	var transforms []transform.FieldTransform
	for _, u := range updates {
		path, err := value.ParsePath(u.path)
		if err != nil {
			return mutation.Mutation{}, fmt.Errorf("update %q: %w", u.path, err)
		}
		switch {
		case u.setValue != nil:
			fieldUpdates = append(fieldUpdates, mutation.FieldUpdate{Path: path, Value: *u.setValue})
		case u.transform != nil:
			transforms = append(transforms, transform.FieldTransform{Path: path, Transform: *u.transform})
		default:
			return mutation.Mutation{}, fmt.Errorf("update %q carries neither value nor transform", u.path)
		}
	}
	return mutation.NewPatch(key, fieldUpdates, transforms...), nil
}

// WriteBatch groups mutations against multiple documents into one batch
// that commits atomically on the server.
type WriteBatch struct {
	engine    *Engine
	mutations []mutation.Mutation
	err       error
}

// NewWriteBatch starts an empty batch bound to the engine.
func (e *Engine) NewWriteBatch() *WriteBatch {
	return &WriteBatch{engine: e}
}

// Set queues a whole-document replacement.
func (w *WriteBatch) Set(key document.Key, fields map[string]value.Value) *WriteBatch {
	w.mutations = append(w.mutations, mutation.NewSet(key, value.CloneFields(fields)))
	return w
}

// Update queues a sparse update against one document.
func (w *WriteBatch) Update(key document.Key, updates ...Update) *WriteBatch {
	m, err := buildPatch(key, updates)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return w
	}
	w.mutations = append(w.mutations, m)
	return w
}

// Commit enqueues the accumulated mutations as one batch.
func (w *WriteBatch) Commit() (*PendingWrite, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.engine.Write(w.mutations...)
}
