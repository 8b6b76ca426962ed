// Package cli implements the tenant-config CLI's dot-path operations:
// read, type-inferred set, unset, deep JSON merge, and pretty-printed
// dry-run output, per spec.md §6.
package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// Get reads the value at path from raw JSON, pretty-printed.
func Get(raw []byte, path string) (string, error) {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if res.IsObject() || res.IsArray() {
		return string(pretty.Pretty([]byte(res.Raw))), nil
	}
	return res.Raw, nil
}

// Set writes value at path, inferring its JSON type: a value starting
// with '{' or '[' is parsed as a JSON subtree; "true"/"false" become
// booleans; a valid number becomes numeric; everything else is a
// literal string.
func Set(raw []byte, path, value string) ([]byte, error) {
	inferred := inferValue(value)
	out, err := sjson.SetBytes(raw, path, inferred)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	return out, nil
}

func inferValue(value string) interface{} {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	if len(value) > 0 && (value[0] == '{' || value[0] == '[') {
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			return v
		}
	}
	return value
}

// Unset removes the value at path.
func Unset(raw []byte, path string) ([]byte, error) {
	out, err := sjson.DeleteBytes(raw, path)
	if err != nil {
		return nil, fmt.Errorf("unset %s: %w", path, err)
	}
	return out, nil
}

// Merge deep-merges patch into raw: every key in patch is recursively
// applied over raw, with patch's scalars/arrays replacing raw's.
func Merge(raw, patch []byte) ([]byte, error) {
	var base, overlay map[string]interface{}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("merge: invalid base json: %w", err)
	}
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("merge: invalid patch json: %w", err)
	}
	merged := deepMerge(base, overlay)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(out), nil
}

func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		if bv, ok := out[k]; ok {
			bm, bok := bv.(map[string]interface{})
			om, ook := ov.(map[string]interface{})
			if bok && ook {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}

// Pretty formats raw JSON for display.
func Pretty(raw []byte) string {
	return string(pretty.Pretty(raw))
}
