package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	// flattenedKeyPattern matches keys that already carry a category prefix.
	flattenedKeyPattern = regexp.MustCompile(`^\d+_\d+`)
	// positionalKeyPattern matches bare ids and fully positional keys.
	positionalKeyPattern = regexp.MustCompile(`^\d+(_\d+)*$`)
)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isFlattenedKey reports whether key starts with "{cat}_{attr}".
func isFlattenedKey(key string) bool {
	return flattenedKeyPattern.MatchString(key)
}

// isPositionalKey reports whether key is made only of numeric segments.
func isPositionalKey(key string) bool {
	return positionalKeyPattern.MatchString(key)
}

// qualifyKey prefixes key with the category id unless it is already flattened.
func qualifyKey(categoryID, key string) string {
	if categoryID == "" || isFlattenedKey(key) {
		return key
	}
	return categoryID + "_" + key
}

// categoryPrefix returns the leading numeric segment of a flattened key.
func categoryPrefix(key string) (int64, bool) {
	head, _, found := strings.Cut(key, "_")
	if !found || !isDigits(head) {
		return 0, false
	}
	id, err := strconv.ParseInt(head, 10, 64)
	return id, err == nil
}

// lastSegment returns the part of key after its final underscore.
func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '_'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func parseID(s string) (int64, bool) {
	if !isDigits(s) {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// stringify renders a scalar the way the server expects it in a form body.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// normalizeValue converts typed Go containers (structs, typed maps and
// slices) into the map[string]any / []any shapes json.Unmarshal produces,
// at every depth. Plain containers are copied, never modified in place.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64, json.Number:
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, child := range val {
			normalized, err := normalizeValue(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			normalized, err := normalizeValue(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = normalized
		}
		return out, nil
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, fmt.Errorf("unsupported value type %T", v)
	default:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
