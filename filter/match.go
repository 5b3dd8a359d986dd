package filter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Match evaluates a wire query against a decoded record. Relation paths
// descend into nested objects; on arrays of objects any element may match.
func Match(q Query, rec map[string]any) bool {
	for key, cond := range q {
		switch key {
		case "_and", "_or":
			list, _ := asList(cond)
			if !matchLogic(key == "_or", list, rec) {
				return false
			}
		default:
			if !matchField(cond, rec[key]) {
				return false
			}
		}
	}
	return true
}

func matchLogic(or bool, parts []any, rec map[string]any) bool {
	if len(parts) == 0 {
		return true
	}
	for _, p := range parts {
		sub, _ := p.(map[string]any)
		ok := Match(sub, rec)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

// matchField applies cond, either an operator map or a nested relation
// query, to value.
func matchField(cond any, value any) bool {
	m, ok := cond.(map[string]any)
	if !ok {
		return equal(value, cond)
	}
	if isOperatorMap(m) {
		for op, arg := range m {
			if !compare(Operator(op), value, arg) {
				return false
			}
		}
		return true
	}
	switch v := value.(type) {
	case map[string]any:
		return Match(m, v)
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok && Match(m, obj) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "_") {
			return false
		}
	}
	return len(m) > 0
}

func compare(op Operator, value, arg any) bool {
	switch op {
	case OpEq:
		return equal(value, arg)
	case OpNeq:
		return !equal(value, arg)
	case OpGt:
		c, ok := order(value, arg)
		return ok && c > 0
	case OpGte:
		c, ok := order(value, arg)
		return ok && c >= 0
	case OpLt:
		c, ok := order(value, arg)
		return ok && c < 0
	case OpLte:
		c, ok := order(value, arg)
		return ok && c <= 0
	case OpContains:
		return value != nil && strings.Contains(strings.ToLower(text(value)), strings.ToLower(text(arg)))
	case OpStartsWith:
		return value != nil && strings.HasPrefix(strings.ToLower(text(value)), strings.ToLower(text(arg)))
	case OpEndsWith:
		return value != nil && strings.HasSuffix(strings.ToLower(text(value)), strings.ToLower(text(arg)))
	case OpIsNull:
		want, ok := arg.(bool)
		return (value == nil) == (!ok || want)
	case OpIn, OpNotIn:
		list, _ := asList(arg)
		found := false
		for _, item := range list {
			if equal(value, item) {
				found = true
				break
			}
		}
		return found == (op == OpIn)
	case OpBetween:
		list, ok := asList(arg)
		if !ok || len(list) != 2 {
			return false
		}
		lo, ok1 := order(value, list[0])
		hi, ok2 := order(value, list[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
		return text(b) == strconv.FormatBool(ba)
	}
	return text(a) == text(b)
}

// order compares numerically, then as timestamps, then as text.
func order(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	ta, errA := time.Parse(time.RFC3339Nano, text(a))
	tb, errB := time.Parse(time.RFC3339Nano, text(b))
	if errA == nil && errB == nil {
		return ta.Compare(tb), true
	}
	return strings.Compare(text(a), text(b)), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// asList returns v as []any when it is any slice or array.
func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
