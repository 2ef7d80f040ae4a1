package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindBool
	KindID
	KindIDs
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindID:
		return "id"
	case KindIDs:
		return "ids"
	case KindStrings:
		return "strings"
	default:
		return "absent"
	}
}

// Value is a single field value in a create/write payload or a domain
// operand. The zero Value is absent.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	id   int64
	ids  []int64
	ss   []string
}

// Absent returns a value that is dropped before transmission.
func Absent() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// OptString returns a string value, or Absent when s is blank.
func OptString(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Absent()
	}
	return String(s)
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// Int returns a numeric value holding an integer.
func Int(i int64) Value { return Value{kind: KindNumber, n: float64(i)} }

// Decimal returns a numeric value from a decimal amount.
func Decimal(d decimal.Decimal) Value { return Value{kind: KindNumber, n: d.InexactFloat64()} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ID returns a reference to a remote record. Non-positive ids are absent,
// so an unresolved reference never reaches the remote side.
func ID(id int64) Value {
	if id <= 0 {
		return Absent()
	}
	return Value{kind: KindID, id: id}
}

// IDs returns a list of record references.
func IDs(ids ...int64) Value {
	cp := make([]int64, len(ids))
	copy(cp, ids)
	return Value{kind: KindIDs, ids: cp}
}

// Strings returns a list of strings, used as an "in" operand.
func Strings(ss ...string) Value {
	cp := make([]string, len(ss))
	copy(cp, ss)
	return Value{kind: KindStrings, ss: cp}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Interface returns the plain Go representation of v.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindID:
		return v.id
	case KindIDs:
		return v.ids
	case KindStrings:
		return v.ss
	default:
		return false
	}
}

// MarshalJSON encodes v. Absent encodes as false, the remote "no value".
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v Value) String() string {
	if v.kind == KindAbsent {
		return "<absent>"
	}
	return fmt.Sprint(v.Interface())
}

// Values is an ordered field to value mapping. The zero value is ready to use.
type Values struct {
	keys []string
	m    map[string]Value
}

// NewValues returns an empty mapping.
func NewValues() *Values { return &Values{} }

// Set assigns field and returns the mapping for chaining.
func (vs *Values) Set(field string, v Value) *Values {
	if vs.m == nil {
		vs.m = make(map[string]Value)
	}
	if _, ok := vs.m[field]; !ok {
		vs.keys = append(vs.keys, field)
	}
	vs.m[field] = v
	return vs
}

// Get returns the value for field.
func (vs *Values) Get(field string) (Value, bool) {
	if vs == nil {
		return Value{}, false
	}
	v, ok := vs.m[field]
	return v, ok
}

// Delete removes field.
func (vs *Values) Delete(field string) {
	if vs == nil {
		return
	}
	if _, ok := vs.m[field]; !ok {
		return
	}
	delete(vs.m, field)
	for i, k := range vs.keys {
		if k == field {
			vs.keys = append(vs.keys[:i], vs.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the fields in insertion order.
func (vs *Values) Keys() []string {
	if vs == nil {
		return nil
	}
	out := make([]string, len(vs.keys))
	copy(out, vs.keys)
	return out
}

func (vs *Values) Len() int {
	if vs == nil {
		return 0
	}
	return len(vs.keys)
}

// Clone returns an independent copy.
func (vs *Values) Clone() *Values {
	out := NewValues()
	if vs == nil {
		return out
	}
	for _, k := range vs.keys {
		out.Set(k, vs.m[k])
	}
	return out
}

// Merge sets every field of other on vs, overriding existing ones.
func (vs *Values) Merge(other *Values) *Values {
	if other == nil {
		return vs
	}
	for _, k := range other.keys {
		vs.Set(k, other.m[k])
	}
	return vs
}

// Clean returns a copy without absent values and without the given fields.
func (vs *Values) Clean(strip ...string) *Values {
	out := NewValues()
	if vs == nil {
		return out
	}
	skip := make(map[string]bool, len(strip))
	for _, f := range strip {
		skip[f] = true
	}
	for _, k := range vs.keys {
		v := vs.m[k]
		if v.IsAbsent() || skip[k] {
			continue
		}
		out.Set(k, v)
	}
	return out
}

// MarshalJSON encodes the mapping as an object in insertion order.
func (vs *Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if vs != nil {
		for i, k := range vs.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(vs.m[k])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Cond is one (field, operator, value) triple of a domain filter.
type Cond struct {
	Field string
	Op    string
	Value Value
}

// Where builds a condition with an explicit operator.
func Where(field, op string, v Value) Cond { return Cond{Field: field, Op: op, Value: v} }

// Eq builds an equality condition.
func Eq(field string, v Value) Cond { return Cond{Field: field, Op: "=", Value: v} }

// In builds a membership condition.
func In(field string, v Value) Cond { return Cond{Field: field, Op: "in", Value: v} }

// MarshalJSON encodes the triple as a three-element array.
func (c Cond) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Field, c.Op, c.Value})
}

// Domain is an ordered list of conditions combined with AND.
type Domain []Cond

// MarshalJSON encodes a nil domain as an empty list.
func (d Domain) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Cond(d))
}

func (d Domain) String() string {
	parts := make([]string, len(d))
	for i, c := range d {
		parts[i] = fmt.Sprintf("(%s %s %v)", c.Field, c.Op, c.Value)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
