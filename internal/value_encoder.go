package internal

import (
	"encoding/json"
	"fmt"
	"strconv"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

// EncodeValues flattens values into the form pairs the category write API
// expects. Bare attribute ids are prefixed with categoryID; keys that are
// already flattened ("{cat}_{attr}...") are written as given. Nested rows
// are expanded to "{cat}_{attr}_{row}_{child}".
//
// Shapes that match neither a row array nor a row map are written as
// scalars; each such fallback is returned as a warning.
func EncodeValues(values otcs.ValueMap, categoryID int64) (otcs.FlatPairs, []string) {
	enc := &valueEncoder{pairs: make(otcs.FlatPairs, 0, len(values))}
	prefix := formatID(categoryID)

	for _, key := range sortedKeys(values) {
		value, err := normalizeValue(values[key])
		if err != nil {
			encErr := otcs.NewEncodingError(key, err)
			zap.S().Warnw("dropping attribute value", "key", key, "error", encErr)
			enc.warnings = append(enc.warnings, encErr.Error())
			continue
		}
		if value == nil {
			// omission leaves the attribute unchanged
			continue
		}
		if isFlattenedKey(key) {
			enc.terminal(key, value)
			continue
		}
		enc.value(prefix+"_"+key, value)
	}
	return enc.pairs, enc.warnings
}

type valueEncoder struct {
	pairs    otcs.FlatPairs
	warnings []string
}

func (e *valueEncoder) warn(key, reason string) {
	zap.S().Warnw("ambiguous attribute value shape", "key", key, "reason", reason)
	e.warnings = append(e.warnings, key+": "+reason)
}

// value classifies v and writes it under fullKey.
func (e *valueEncoder) value(fullKey string, v any) {
	switch val := v.(type) {
	case map[string]any:
		if e.isRowMap(fullKey, val) {
			for _, rowIndex := range sortedKeys(val) {
				e.row(fullKey+"_"+rowIndex, val[rowIndex])
			}
			return
		}
	case []any:
		if e.isRowArray(fullKey, val) {
			for i, row := range val {
				e.rowFields(fullKey+"_"+strconv.Itoa(i+1), row.(map[string]any))
			}
			return
		}
	}
	e.terminal(fullKey, v)
}

// row writes one entry of a row map. Row indices are echoed verbatim.
func (e *valueEncoder) row(rowKey string, rowData any) {
	if fields, ok := rowData.(map[string]any); ok {
		e.rowFields(rowKey, fields)
		return
	}
	e.terminal(rowKey, rowData)
}

func (e *valueEncoder) rowFields(rowKey string, fields map[string]any) {
	for _, childKey := range sortedKeys(fields) {
		child := fields[childKey]
		if child == nil {
			continue
		}
		e.value(rowKey+"_"+childKey, child)
	}
}

// isRowMap reports whether every key of a non-empty object is a row index.
func (e *valueEncoder) isRowMap(fullKey string, obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}
	numeric := 0
	for key := range obj {
		if isDigits(key) {
			numeric++
		}
	}
	if numeric == len(obj) {
		return true
	}
	if numeric > 0 {
		e.warn(fullKey, "row map mixes numeric and non-numeric keys, writing it as JSON")
	}
	return false
}

// isRowArray reports whether a non-empty array holds only objects.
func (e *valueEncoder) isRowArray(fullKey string, arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	objects, nested := 0, 0
	for _, el := range arr {
		switch el.(type) {
		case map[string]any:
			objects++
		case []any:
			nested++
		}
	}
	if objects == len(arr) {
		return true
	}
	if objects > 0 || nested > 0 {
		e.warn(fullKey, "array mixes rows with other values, writing elements individually")
	}
	return false
}

// terminal writes a scalar or a list of scalars. Each list element becomes
// its own pair under key; objects are written as JSON strings.
func (e *valueEncoder) terminal(key string, v any) {
	switch val := v.(type) {
	case nil:
		return
	case []any:
		for _, el := range val {
			if el == nil {
				continue
			}
			e.scalar(key, el)
		}
	default:
		e.scalar(key, val)
	}
}

func (e *valueEncoder) scalar(key string, v any) {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			e.warn(key, fmt.Sprintf("value is not JSON encodable: %v", err))
			return
		}
		e.pairs.Add(key, string(raw))
	default:
		e.pairs.Add(key, stringify(v))
	}
}
