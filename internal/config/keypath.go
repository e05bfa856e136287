package config

import (
	"strconv"
	"strings"
)

// ParseConfigPath splits a dotted key such as "gateway.auth.mode".
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	segs := strings.Split(raw, ".")
	for i, s := range segs {
		if s == "" {
			return nil, &ConfigError{Message: "config path " + strconv.Quote(raw) + " has an empty segment at " + strconv.Itoa(i)}
		}
	}
	return segs, nil
}

// GetValueAtPath walks a decoded YAML document. Numeric segments index
// into lists, so "agents.list.0.id" works.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
