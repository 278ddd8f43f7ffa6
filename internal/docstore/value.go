package docstore

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Update mutates a single field, addressed by a dotted path
// ("unreadCount.<uid>"). Intermediate maps are created as needed.
type Update struct {
	Path  string
	Value any
}

type serverTimestamp struct{}

type increment struct{ by int64 }

type arrayUnion struct{ items []any }

type arrayRemove struct{ items []any }

type deleteField struct{}

// ServerTimestamp resolves to the commit's store-assigned timestamp.
// Every sentinel in one commit resolves to the same instant.
func ServerTimestamp() any { return serverTimestamp{} }

// Increment resolves to the field's current numeric value plus by, treating
// an absent field as zero. It is commutative across concurrent writers.
func Increment(by int64) any { return increment{by: by} }

// ArrayUnion appends the given items to an array field, skipping items
// already present.
func ArrayUnion(items ...any) any { return arrayUnion{items: items} }

// ArrayRemove removes the given items from an array field.
func ArrayRemove(items ...any) any { return arrayRemove{items: items} }

// DeleteField removes the field entirely.
func DeleteField() any { return deleteField{} }

func applyUpdate(doc Doc, path string, value any, ts time.Time) {
	segs := strings.Split(path, ".")
	m := doc
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[seg] = child
		}
		m = child
	}

	last := segs[len(segs)-1]
	if _, ok := value.(deleteField); ok {
		delete(m, last)
		return
	}
	m[last] = resolveValue(m[last], value, ts)
}

func resolveValue(cur, value any, ts time.Time) any {
	switch v := value.(type) {
	case serverTimestamp:
		return ts
	case increment:
		return AsInt64(cur) + v.by
	case arrayUnion:
		arr := asSlice(cur)
		for _, item := range v.items {
			if !sliceContains(arr, item) {
				arr = append(arr, item)
			}
		}
		return arr
	case arrayRemove:
		arr := asSlice(cur)
		out := arr[:0]
		for _, item := range arr {
			if !sliceContains(v.items, item) {
				out = append(out, item)
			}
		}
		return out
	case map[string]any:
		return resolveDoc(v, ts)
	default:
		return value
	}
}

// resolveDoc deep-copies a document, replacing sentinels. Used for Set and
// Create payloads, where sentinels resolve against no prior value.
func resolveDoc(doc Doc, ts time.Time) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		if _, ok := v.(deleteField); ok {
			continue
		}
		out[k] = resolveValue(nil, v, ts)
	}
	return out
}

func deepCopyDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func sliceContains(arr []any, item any) bool {
	for _, v := range arr {
		if reflect.DeepEqual(v, item) {
			return true
		}
	}
	return false
}

// AsInt64 reads a numeric document value, tolerating the float64 and
// json.Number shapes JSON decoding produces. Absent or non-numeric values
// read as zero (the default-zero convention for sparse counter maps).
func AsInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}

// AsTime reads a timestamp value, tolerating the RFC 3339 string shape
// persisted documents decode to. The zero time is returned for anything else.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

// AsString reads a string value, returning "" for absent fields.
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsBool reads a bool value, returning false for absent fields.
func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// AsStringSlice reads an array field of strings.
func AsStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AsInt64Map reads a map field of numeric values.
func AsInt64Map(v any) map[string]int64 {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]int64{}
	}
	out := make(map[string]int64, len(m))
	for k, val := range m {
		out[k] = AsInt64(val)
	}
	return out
}
