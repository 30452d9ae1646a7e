package transform

import (
	"time"

	"github.com/driftsync/driftsync/internal/core/value"
)

// ResolveLocal computes the optimistic estimate of a transform applied to
// the prior local value. It is deterministic: the only time source is the
// batch's local write time, captured once at batch creation.
func ResolveLocal(t Transform, prior value.Value, localWriteTime time.Time) value.Value {
	return resolve(t, prior, value.PendingTimestamp(localWriteTime))
}

// ResolveServer computes the authoritative result of a transform. Only the
// server timestamp case differs from the local pass: it yields the concrete
// commit time instead of the pending sentinel.
func ResolveServer(t Transform, prior value.Value, serverTime time.Time) value.Value {
	return resolve(t, prior, value.Timestamp(serverTime))
}

func resolve(t Transform, prior value.Value, stamp value.Value) value.Value {
	switch t.Op {
	case OpIncrement:
		base := prior
		if !base.IsNumeric() {
			// Absent or non-numeric priors are discarded: overwrite-then-add.
			base = value.Zero(t.Operand)
		}
		return value.Add(base, t.Operand)

	case OpServerTimestamp:
		return stamp

	case OpDelete:
		return value.Absent()

	case OpArrayUnion:
		elems := priorElements(prior)
		out := make([]value.Value, 0, len(elems)+len(t.Elements))
		out = append(out, elems...)
		for _, e := range t.Elements {
			if !contains(out, e) {
				out = append(out, e)
			}
		}
		return value.Array(out...)

	case OpArrayRemove:
		elems := priorElements(prior)
		out := make([]value.Value, 0, len(elems))
		for _, e := range elems {
			if !contains(t.Elements, e) {
				out = append(out, e)
			}
		}
		return value.Array(out...)

	default:
		return prior
	}
}

// priorElements treats any non-array prior as an empty array.
func priorElements(prior value.Value) []value.Value {
	if prior.Kind() == value.KindArray {
		return prior.Values()
	}
	return nil
}

func contains(elems []value.Value, v value.Value) bool {
	for _, e := range elems {
		if e.Equal(v) {
			return true
		}
	}
	return false
}
