package engine

import (
	"bytes"
	"encoding/json"
	"sort"
)

// embedText flattens embeds depth first into their leaf values and encodes
// them as one JSON array, e.g. ["title","body",3]. Object keys are walked in
// sorted order; nulls are dropped.
func embedText(embeds []any) string {
	var leaves []any
	for _, e := range embeds {
		leaves = appendLeaves(leaves, e)
	}
	if leaves == nil {
		leaves = []any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(leaves); err != nil {
		return ""
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func appendLeaves(dst []any, v any) []any {
	switch t := v.(type) {
	case nil:
		return dst
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendLeaves(dst, t[k])
		}
		return dst
	case []any:
		for _, x := range t {
			dst = appendLeaves(dst, x)
		}
		return dst
	default:
		return append(dst, t)
	}
}
