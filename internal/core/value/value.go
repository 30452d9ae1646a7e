// Package value defines the tagged field value union used across the
// mutation engine. A Value is immutable from the caller's point of view:
// operations that derive new state return new Values and never modify
// their receivers.
package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the members of the Value union.
type Kind uint8

const (
	// KindAbsent marks a field that does not exist on the document.
	KindAbsent Kind = iota
	KindNull
	KindBoolean
	KindInteger
	KindDouble
	KindString
	KindTimestamp
	KindArray
	KindMap
	KindReference

	// KindPendingTimestamp is the sentinel produced by a locally resolved
	// server-timestamp transform. It carries the local write time so that
	// subscribers configured for estimated rendering can surface it.
	KindPendingTimestamp
)

// String returns the kind name used in logs and wire frames.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindReference:
		return "reference"
	case KindPendingTimestamp:
		return "pending_timestamp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a closed tagged union over every field type a document may hold.
// The zero Value is Absent.
type Value struct {
	kind Kind
	b    bool
	i    int64
	d    float64
	s    string    // string and reference payloads
	t    time.Time // timestamp and pending-timestamp payloads
	arr  []Value
	mp   map[string]Value
}

// Absent returns the value marking a non-existent field.
func Absent() Value { return Value{kind: KindAbsent} }

// Null returns the explicit null value.
func Null() Value { return Value{kind: KindNull} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Integer wraps a 64-bit integer.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Double wraps a 64-bit float.
func Double(d float64) Value { return Value{kind: KindDouble, d: d} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Timestamp wraps a concrete point in time.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Array wraps an ordered list of values.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Map wraps a field map. The map is used as-is; callers hand over ownership.
func Map(m map[string]Value) Value { return Value{kind: KindMap, mp: m} }

// Reference wraps a document reference path.
func Reference(path string) Value { return Value{kind: KindReference, s: path} }

// PendingTimestamp returns the local sentinel for a not-yet-acknowledged
// server timestamp, carrying the batch's local write time.
func PendingTimestamp(localWriteTime time.Time) Value {
	return Value{kind: KindPendingTimestamp, t: localWriteTime}
}

// Kind returns the union tag.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value marks a missing field.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsNumeric reports whether the value participates in integer/double
// arithmetic.
func (v Value) IsNumeric() bool {
	return v.kind == KindInteger || v.kind == KindDouble
}

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.i }

// Float returns the double payload. For integers it returns the converted
// value so numeric callers need not branch on kind.
func (v Value) Float() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.d
}

// Str returns the string or reference payload.
func (v Value) Str() string { return v.s }

// Time returns the timestamp payload. For pending timestamps this is the
// local write time of the batch that produced the sentinel.
func (v Value) Time() time.Time { return v.t }

// Values returns the array payload. The returned slice must not be mutated.
func (v Value) Values() []Value { return v.arr }

// Fields returns the map payload. The returned map must not be mutated.
func (v Value) Fields() map[string]Value { return v.mp }

// Equal reports deep equality. Integer and Double compare as distinct kinds:
// Integer(1) is not Equal to Double(1).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent, KindNull:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.d == o.d || (math.IsNaN(v.d) && math.IsNaN(o.d))
	case KindString, KindReference:
		return v.s == o.s
	case KindTimestamp, KindPendingTimestamp:
		return v.t.Equal(o.t)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mp) != len(o.mp) {
			return false
		}
		for k, vv := range v.mp {
			ov, ok := o.mp[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy. Scalar values share no mutable state, so only
// arrays and maps are copied structurally.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindMap:
		return Map(CloneFields(v.mp))
	default:
		return v
	}
}

// CloneFields deep-copies a field map.
func CloneFields(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Add sums two numeric values under the promotion rule: Integer+Integer stays
// Integer unless the 64-bit sum overflows, in which case the result promotes
// to Double; any Double operand yields Double. Non-numeric operands are the
// caller's responsibility.
func Add(a, b Value) Value {
	if a.kind == KindInteger && b.kind == KindInteger {
		sum := a.i + b.i
		// Two's-complement overflow check: the sign of the sum differs from
		// the shared sign of the operands.
		if (a.i > 0 && b.i > 0 && sum < 0) || (a.i < 0 && b.i < 0 && sum >= 0) {
			return Double(float64(a.i) + float64(b.i))
		}
		return Integer(sum)
	}
	return Double(a.Float() + b.Float())
}

// Zero returns the additive identity matching the kind of the operand:
// Integer(0) for integer operands, Double(0) otherwise.
func Zero(operand Value) Value {
	if operand.kind == KindInteger {
		return Integer(0)
	}
	return Double(0)
}

// String renders the value for logs and test failure messages.
func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "<absent>"
	case KindNull:
		return "null"
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindDouble:
		return fmt.Sprintf("%g", v.d)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindReference:
		return fmt.Sprintf("ref(%s)", v.s)
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	case KindPendingTimestamp:
		return fmt.Sprintf("pending(%s)", v.t.UTC().Format(time.RFC3339Nano))
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.mp))
		for k := range v.mp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.mp[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.kind.String()
	}
}
