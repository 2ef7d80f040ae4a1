package erptest

import (
	"fmt"
	"strings"
)

type cond struct {
	field string
	op    string
	value any
}

// domainArg decodes the leading domain argument. "&" prefixes are accepted
// (conditions are ANDed anyway); other prefix operators are not supported.
func domainArg(args []any) ([]cond, error) {
	if len(args) == 0 {
		return nil, nil
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, remoteErr("ValueError", "invalid domain %v", args[0])
	}
	out := make([]cond, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			if t == "&" {
				continue
			}
			return nil, remoteErr("ValueError", "unsupported domain operator %q", t)
		case []any:
			if len(t) != 3 {
				return nil, remoteErr("ValueError", "invalid domain term %v", t)
			}
			field, _ := t[0].(string)
			op, _ := t[1].(string)
			out = append(out, cond{field: field, op: strings.ToLower(op), value: t[2]})
		default:
			return nil, remoteErr("ValueError", "invalid domain term %v", item)
		}
	}
	return out, nil
}

func matchAll(rec map[string]any, dom []cond) (bool, error) {
	for _, c := range dom {
		ok, err := match(rec[c.field], c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(got any, c cond) (bool, error) {
	switch c.op {
	case "=":
		return equal(got, c.value), nil
	case "!=", "<>":
		return !equal(got, c.value), nil
	case "in", "not in":
		list, ok := c.value.([]any)
		if !ok {
			return false, remoteErr("ValueError", "operator %q needs a list", c.op)
		}
		found := false
		for _, v := range list {
			if equal(got, v) {
				found = true
				break
			}
		}
		return found == (c.op == "in"), nil
	case "like", "ilike", "not ilike":
		s, _ := got.(string)
		pat := fmt.Sprint(c.value)
		if c.op != "like" {
			s, pat = strings.ToLower(s), strings.ToLower(pat)
		}
		hit := strings.Contains(s, strings.ReplaceAll(pat, "%", ""))
		return hit == (c.op != "not ilike"), nil
	case ">", ">=", "<", "<=":
		if got == nil || got == false {
			return false, nil
		}
		cmp := compare(got, c.value)
		switch c.op {
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		case "<":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, remoteErr("ValueError", "unsupported operator %q", c.op)
}

// equal compares decoded JSON values. false matches a missing value, and a
// relational [id, name] pair matches its id.
func equal(got, want any) bool {
	if pair, ok := got.([]any); ok && len(pair) == 2 {
		got = pair[0]
	}
	if want == false {
		return got == nil || got == false
	}
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		return ok && g == w
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case nil:
		return got == nil || got == false
	}
	return false
}

func compare(a, b any) int {
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
