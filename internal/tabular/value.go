package tabular

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind discriminates the value variants a cell can hold.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindList
)

// listMarker is the sentinel Grist prepends to list-typed cell payloads
// (attachments, references, choice lists). It is format metadata, not data.
const listMarker = "L"

// Value is a dynamically-typed cell value: Null | Bool | Number | Text | List.
// Consumers switch on Kind instead of doing ad hoc type inspection.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
}

func Null() Value            { return Value{kind: KindNull} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Text(s string) Value    { return Value{kind: KindText, s: s} }
func List(vs []Value) Value  { return Value{kind: KindList, list: vs} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number returns the numeric payload; ok is false for non-number kinds.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// Float coerces the value to a float64. Numbers pass through, text is
// parsed, everything else fails.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ListItems returns the list payload; ok is false for non-list kinds.
func (v Value) ListItems() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// String stringifies the value. Null is the empty string; integral numbers
// drop the fractional part; lists join their non-empty entries with ", ",
// filtering the single-character list-type marker.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindText:
		return v.s
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, it := range v.list {
			s := it.String()
			if s == "" || s == listMarker {
				continue
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindText:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a decoded JSON value into a Value. Unknown shapes
// stringify via their JSON encoding rather than erroring.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Text(x.String())
		}
		return Number(f)
	case string:
		return Text(x)
	case []any:
		items := make([]Value, 0, len(x))
		for _, it := range x {
			items = append(items, FromAny(it))
		}
		return List(items)
	case map[string]any:
		// No object-valued cells exist in the source model; keep a stable
		// textual form so nothing is silently dropped.
		b, err := json.Marshal(x)
		if err != nil {
			return Null()
		}
		return Text(string(b))
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return Null()
		}
		return Text(string(b))
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindText:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	}
	return []byte("null"), nil
}
