package telemetry

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MaskChar is repeated to hide obfuscated values.
const MaskChar = "*"

// Obfuscate returns a copy of tree where every leaf stored under one of keys
// is replaced by a mask of the same rendered length. Keys match by bare name at
// any depth; there is no dot-path matching.
func Obfuscate(tree map[string]any, keys []string) map[string]any {
	if tree == nil {
		return nil
	}
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		switch val := v.(type) {
		case map[string]any:
			out[k] = Obfuscate(val, keys)
		case []any:
			out[k] = obfuscateSlice(val, keys)
		default:
			if slices.Contains(keys, k) {
				out[k] = strings.Repeat(MaskChar, len(render(v)))
				continue
			}
			out[k] = v
		}
	}
	return out
}

func obfuscateSlice(s []any, keys []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			out[i] = Obfuscate(val, keys)
		case []any:
			out[i] = obfuscateSlice(val, keys)
		default:
			out[i] = v
		}
	}
	return out
}

// render stringifies a leaf the way it would be printed into a document:
// true is "1", false and nil are empty.
func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}
