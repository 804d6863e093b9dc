package store

import "reflect"

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the backend with its own
// write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ResolveFields returns a deep copy of fields with every ServerTimestamp
// replaced by the value returned from now.
func ResolveFields(fields map[string]any, now func() any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = now()
		case map[string]any:
			out[k] = ResolveFields(val, now)
		default:
			out[k] = v
		}
	}
	return out
}

// MergeFields deep-merges patch into dst. Nested maps are merged key by key,
// any other value replaces the existing one.
func MergeFields(dst, patch map[string]any) {
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				MergeFields(dm, pm)
				continue
			}
			cp := make(map[string]any, len(pm))
			MergeFields(cp, pm)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}

// CloneFields returns a deep copy of fields.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	MergeFields(out, fields)
	return out
}

// Matches reports whether fields satisfy the equality filter of q.
func (q Query) Matches(fields map[string]any) bool {
	if q.Field == "" {
		return true
	}
	v, ok := fields[q.Field]
	return ok && reflect.DeepEqual(v, q.Value)
}
