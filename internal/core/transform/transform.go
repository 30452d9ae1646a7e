// Package transform implements server-defined field transforms and the pure
// resolver that folds them onto prior field values. The resolver is the one
// piece of logic shared by the optimistic local view and the authoritative
// server pass, which is what makes local and remote state converge.
package transform

import (
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftsync/internal/core/value"
)

// Op enumerates the closed set of transform operations.
type Op uint8

const (
	OpIncrement Op = iota + 1
	OpServerTimestamp
	OpDelete
	OpArrayUnion
	OpArrayRemove
)

var opNames = map[Op]string{
	OpIncrement:       "increment",
	OpServerTimestamp: "server_timestamp",
	OpDelete:          "delete",
	OpArrayUnion:      "array_union",
	OpArrayRemove:     "array_remove",
}

// String returns the wire name of the operation.
func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// MarshalJSON encodes the op by wire name.
func (o Op) MarshalJSON() ([]byte, error) {
	n, ok := opNames[o]
	if !ok {
		return nil, fmt.Errorf("marshal: unknown transform op %d", uint8(o))
	}
	return json.Marshal(n)
}

// UnmarshalJSON decodes the op from its wire name.
func (o *Op) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	for op, name := range opNames {
		if name == n {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unmarshal: unknown transform op %q", n)
}

// Transform is one server-defined operation, without a field binding.
type Transform struct {
	Op       Op            `json:"op"`
	Operand  value.Value   `json:"operand,omitempty"`  // increment only
	Elements []value.Value `json:"elements,omitempty"` // array union/remove only
}

// Increment returns a numeric increment transform. The operand's kind
// (integer or double) drives the promotion rule during resolution.
func Increment(operand value.Value) Transform {
	return Transform{Op: OpIncrement, Operand: operand}
}

// ServerTimestamp returns a transform resolved to the server's commit time.
func ServerTimestamp() Transform {
	return Transform{Op: OpServerTimestamp}
}

// Delete returns a transform that removes the field.
func Delete() Transform {
	return Transform{Op: OpDelete}
}

// ArrayUnion returns a transform that appends elements not already present.
func ArrayUnion(elements ...value.Value) Transform {
	return Transform{Op: OpArrayUnion, Elements: elements}
}

// ArrayRemove returns a transform that removes all matching elements.
func ArrayRemove(elements ...value.Value) Transform {
	return Transform{Op: OpArrayRemove, Elements: elements}
}

// FieldTransform binds a transform to a field path within one document.
type FieldTransform struct {
	Path      value.Path `json:"path"`
	Transform Transform  `json:"transform"`
}
