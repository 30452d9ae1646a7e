package value

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// wireValue is the tagged JSON form used on the wire and in the bolt store.
// Integers travel as decimal strings so 64-bit precision survives JSON.
type wireValue struct {
	Type    string               `json:"type"`
	Bool    *bool                `json:"bool,omitempty"`
	Int     *string              `json:"int,omitempty"`
	Double  *float64             `json:"double,omitempty"`
	Str     *string              `json:"str,omitempty"`
	Time    *time.Time           `json:"time,omitempty"`
	Array   []json.RawMessage    `json:"array,omitempty"`
	Fields  map[string]wireValue `json:"fields,omitempty"`
	RefPath *string              `json:"ref,omitempty"`
}

// MarshalJSON encodes the value in tagged wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	w, err := v.encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (v Value) encode() (wireValue, error) {
	w := wireValue{Type: v.kind.String()}
	switch v.kind {
	case KindAbsent, KindNull:
	case KindBoolean:
		w.Bool = &v.b
	case KindInteger:
		s := strconv.FormatInt(v.i, 10)
		w.Int = &s
	case KindDouble:
		w.Double = &v.d
	case KindString:
		w.Str = &v.s
	case KindReference:
		w.RefPath = &v.s
	case KindTimestamp, KindPendingTimestamp:
		t := v.t
		w.Time = &t
	case KindArray:
		w.Array = make([]json.RawMessage, len(v.arr))
		for i, e := range v.arr {
			raw, err := json.Marshal(e)
			if err != nil {
				return wireValue{}, err
			}
			w.Array[i] = raw
		}
	case KindMap:
		w.Fields = make(map[string]wireValue, len(v.mp))
		for k, e := range v.mp {
			nested, err := e.encode()
			if err != nil {
				return wireValue{}, err
			}
			w.Fields[k] = nested
		}
	default:
		return wireValue{}, fmt.Errorf("marshal: unknown value kind %v", v.kind)
	}
	return w, nil
}

// UnmarshalJSON decodes the tagged wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.decode()
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func (w wireValue) decode() (Value, error) {
	switch w.Type {
	case "absent":
		return Absent(), nil
	case "null":
		return Null(), nil
	case "boolean":
		if w.Bool == nil {
			return Value{}, fmt.Errorf("unmarshal: boolean without payload")
		}
		return Boolean(*w.Bool), nil
	case "integer":
		if w.Int == nil {
			return Value{}, fmt.Errorf("unmarshal: integer without payload")
		}
		i, err := strconv.ParseInt(*w.Int, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("unmarshal: bad integer payload: %w", err)
		}
		return Integer(i), nil
	case "double":
		if w.Double == nil {
			return Value{}, fmt.Errorf("unmarshal: double without payload")
		}
		return Double(*w.Double), nil
	case "string":
		if w.Str == nil {
			return Value{}, fmt.Errorf("unmarshal: string without payload")
		}
		return String(*w.Str), nil
	case "reference":
		if w.RefPath == nil {
			return Value{}, fmt.Errorf("unmarshal: reference without payload")
		}
		return Reference(*w.RefPath), nil
	case "timestamp", "pending_timestamp":
		if w.Time == nil {
			return Value{}, fmt.Errorf("unmarshal: timestamp without payload")
		}
		if w.Type == "pending_timestamp" {
			return PendingTimestamp(*w.Time), nil
		}
		return Timestamp(*w.Time), nil
	case "array":
		arr := make([]Value, len(w.Array))
		for i, raw := range w.Array {
			if err := arr[i].UnmarshalJSON(raw); err != nil {
				return Value{}, err
			}
		}
		return Array(arr...), nil
	case "map":
		m := make(map[string]Value, len(w.Fields))
		for k, nested := range w.Fields {
			dv, err := nested.decode()
			if err != nil {
				return Value{}, err
			}
			m[k] = dv
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unmarshal: unknown value type %q", w.Type)
	}
}

// MarshalFields encodes a whole field map in wire form.
func MarshalFields(fields map[string]Value) ([]byte, error) {
	return json.Marshal(Map(fields))
}

// UnmarshalFields decodes a field map produced by MarshalFields.
func UnmarshalFields(data []byte) (map[string]Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Kind() != KindMap {
		return nil, fmt.Errorf("unmarshal: expected map, got %v", v.Kind())
	}
	return v.Fields(), nil
}
