package erp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one row returned by search_read or read.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() int64 { return r.Ref("id") }

// Ref returns the id held by a relational field. The remote side encodes a
// many-to-one value either as a bare id or as an [id, display name] pair, and
// an empty one as false.
func (r Record) Ref(field string) int64 {
	switch v := r[field].(type) {
	case []any:
		if len(v) == 0 {
			return 0
		}
		return toInt(v[0])
	default:
		return toInt(v)
	}
}

// Int returns a numeric field as int64.
func (r Record) Int(field string) int64 { return toInt(r[field]) }

// Float returns a numeric field, or 0.
func (r Record) Float(field string) float64 {
	switch v := r[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// String returns a text field. false and missing fields read as "".
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case nil, bool:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a boolean field.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// IDsOf collects the ids of records in order.
func IDsOf(records []Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID())
	}
	return out
}
