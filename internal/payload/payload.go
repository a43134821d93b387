// Package payload provides helpers for walking decoded JSON trees whose shape
// is not known up front.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Decode parses raw JSON into a generic tree. Numbers are kept as json.Number
// so large identifiers survive unchanged.
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	return v, nil
}

// AsMap returns v as an object, or nil.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsSlice returns v as an array, or nil.
func AsSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// Lookup follows object keys from root. It returns false as soon as a step is
// missing or is not an object.
func Lookup(root any, path ...string) (any, bool) {
	cur := root
	for _, key := range path {
		m := AsMap(cur)
		if m == nil {
			return nil, false
		}
		next, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// String renders a scalar as a trimmed string. Objects, arrays and null yield
// "".
func String(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Identifier renders v as an external id. Only non-empty strings and
// non-zero numbers qualify; booleans, objects and null yield "".
func Identifier(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return ""
		}
		return t.String()
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		if t == 0 {
			return ""
		}
		return strconv.Itoa(t)
	case int64:
		if t == 0 {
			return ""
		}
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// FirstKey returns the value of the first key in keys present on m with a
// non-null value.
func FirstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// FirstString returns the first key in keys whose value renders to a
// non-empty string.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// Hit is a scalar found by FindKey together with the object that held it.
type Hit struct {
	Key    string
	Value  string
	Parent map[string]any
}

// FindKey walks the tree depth first and returns the first non-empty scalar
// whose key satisfies match. Object keys are visited in sorted order so the
// result is stable.
func FindKey(root any, match func(key string) bool) (Hit, bool) {
	return FindKeyAs(root, match, String)
}

// FindKeyAs is FindKey with a custom renderer. Values render returns "" for
// are skipped.
func FindKeyAs(root any, match func(key string) bool, render func(any) string) (Hit, bool) {
	switch t := root.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			v := t[k]
			if match(k) {
				if s := render(v); s != "" {
					return Hit{Key: k, Value: s, Parent: t}, true
				}
			}
			if hit, ok := FindKeyAs(v, match, render); ok {
				return hit, true
			}
		}
	case []any:
		for _, v := range t {
			if hit, ok := FindKeyAs(v, match, render); ok {
				return hit, true
			}
		}
	}
	return Hit{}, false
}

// Objects calls fn for every object in the tree, parents before children,
// until fn returns false.
func Objects(root any, fn func(map[string]any) bool) bool {
	switch t := root.(type) {
	case map[string]any:
		if !fn(t) {
			return false
		}
		for _, k := range sortedKeys(t) {
			if !Objects(t[k], fn) {
				return false
			}
		}
	case []any:
		for _, v := range t {
			if !Objects(v, fn) {
				return false
			}
		}
	}
	return true
}

// ContainsValue reports whether any scalar in the tree renders to want.
func ContainsValue(root any, want string) bool {
	found := false
	Objects(root, func(m map[string]any) bool {
		for _, v := range m {
			if String(v) == want {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
