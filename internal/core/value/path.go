package value

import (
	"errors"
	"strings"
)

// ErrInvalidPath reports an empty path or a path with empty segments.
var ErrInvalidPath = errors.New("invalid field path")

// Path addresses a field inside a document's field map. Segments descend
// through nested maps.
type Path []string

// ParsePath splits a dot-separated field path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, ErrInvalidPath
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, ErrInvalidPath
		}
	}
	return Path(segments), nil
}

// MustParsePath is ParsePath for statically known paths; it panics on
// malformed input.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the dot-separated form.
func (p Path) String() string { return strings.Join(p, ".") }

// Equal reports segment-wise equality.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// GetField walks the path through nested maps. Missing segments and
// non-map intermediates yield Absent.
func GetField(fields map[string]Value, p Path) Value {
	cur := fields
	for i, seg := range p {
		v, ok := cur[seg]
		if !ok {
			return Absent()
		}
		if i == len(p)-1 {
			return v
		}
		if v.Kind() != KindMap {
			return Absent()
		}
		cur = v.Fields()
	}
	return Absent()
}

// SetField writes v at the path, creating intermediate maps as needed and
// replacing non-map intermediates. Setting Absent deletes the field. The
// map is modified in place; callers clone before mutating shared state.
func SetField(fields map[string]Value, p Path, v Value) {
	if v.IsAbsent() {
		DeleteField(fields, p)
		return
	}
	cur := fields
	for i, seg := range p {
		if i == len(p)-1 {
			cur[seg] = v
			return
		}
		next, ok := cur[seg]
		if !ok || next.Kind() != KindMap {
			m := make(map[string]Value)
			cur[seg] = Map(m)
			cur = m
			continue
		}
		cur = next.Fields()
	}
}

// DeleteField removes the field at the path. Missing intermediates are a
// no-op.
func DeleteField(fields map[string]Value, p Path) {
	cur := fields
	for i, seg := range p {
		if i == len(p)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg]
		if !ok || next.Kind() != KindMap {
			return
		}
		cur = next.Fields()
	}
}
