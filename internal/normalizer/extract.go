package normalizer

import (
	"github.com/spf13/cast"
)

// Field extraction follows one rule: a missing key yields the default, a key
// holding null yields nil (absent), anything else is coerced best-effort and
// falls back to the default when coercion fails.

func str(m map[string]any, key, def string) *string {
	v, ok := m[key]
	if !ok {
		return &def
	}
	if v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return &def
	}
	return &s
}

func optStr(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	return &s
}

func num(m map[string]any, key string, def float64) *float64 {
	v, ok := m[key]
	if !ok {
		return &def
	}
	if v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return &def
	}
	return &f
}

func boolean(m map[string]any, key string) bool {
	b, err := cast.ToBoolE(m[key])
	if err != nil {
		return false
	}
	return b
}

// object returns the nested object at key, or nil. Reads from a nil map are
// safe, so callers can chain lookups.
func object(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

func list(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}
