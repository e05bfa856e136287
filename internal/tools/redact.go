package tools

import (
	"encoding/json"
	"slices"
)

// Redacted replaces the value of every listed field.
const Redacted = "[REDACTED]"

// Redact hides the named fields at any depth of a JSON document. Invalid
// JSON is returned unchanged.
func Redact(raw json.RawMessage, fields []string) json.RawMessage {
	if len(fields) == 0 || len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(redactValue(v, fields))
	if err != nil {
		return raw
	}
	return out
}

func redactValue(v any, fields []string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if slices.Contains(fields, k) {
				t[k] = Redacted
				continue
			}
			t[k] = redactValue(val, fields)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i], fields)
		}
		return t
	}
	return v
}
