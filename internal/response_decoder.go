package internal

import (
	"bytes"
	"encoding/json"
	"strings"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

// responseShape recognizes one nesting of category values in a response.
// match returns ok=false when the response does not have that shape.
type responseShape struct {
	name  string
	match func(root map[string]any) (categories []otcs.CategoryWithValues, ok bool)
}

// responseShapes are tried in order; the first match wins.
var responseShapes = []responseShape{
	{name: "results[].data.categories", match: matchCategoriesByID},
	{name: "results.data{id}", match: matchResultsObjectByID},
	{name: "results[].data", match: matchResultsData},
	{name: "results.data", match: matchResultsObjectData},
}

// DecodeCategories extracts the categories applied to a node from any of the
// known category-values response shapes. An unrecognized shape yields an
// empty list; only malformed JSON is an error.
func DecodeCategories(raw json.RawMessage) ([]otcs.CategoryWithValues, error) {
	categories := make([]otcs.CategoryWithValues, 0)
	if len(raw) == 0 {
		return categories, nil
	}

	// numbers stay json.Number so large ids and values keep their precision
	var root any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, otcs.NewInvalidResponseError("category response is not valid JSON", err)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return categories, nil
	}

	for _, shape := range responseShapes {
		if found, ok := shape.match(obj); ok {
			zap.S().Debugw("decoded category response", "shape", shape.name, "categories", len(found))
			return append(categories, found...), nil
		}
	}
	return categories, nil
}

// DecodeCategory returns the first category of the response, or nil.
func DecodeCategory(raw json.RawMessage) (*otcs.CategoryWithValues, error) {
	categories, err := DecodeCategories(raw)
	if err != nil || len(categories) == 0 {
		return nil, err
	}
	return &categories[0], nil
}

// isMetadataKey reports whether a data key carries a display name rather than a value.
func isMetadataKey(key string) bool {
	return key == "name" || strings.HasSuffix(key, "_name")
}

// runtimeType infers a coarse type from an observed value. Schema types are authoritative.
func runtimeType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, json.Number, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		// null, arrays and objects
		return "object"
	}
}

func matchCategoriesByID(root map[string]any) ([]otcs.CategoryWithValues, bool) {
	results, ok := root["results"].([]any)
	if !ok {
		return nil, false
	}

	matched := false
	var categories []otcs.CategoryWithValues
	for _, result := range results {
		resultObj, _ := result.(map[string]any)
		data, _ := resultObj["data"].(map[string]any)
		byID, ok := data["categories"].(map[string]any)
		if !ok {
			continue
		}
		matched = true
		meta := categoryMetadata(resultObj)

		// flat values ("{cat}_{attr}") are grouped by their category prefix
		grouped := make(map[int64]map[string]any)
		var order []int64
		for _, key := range sortedKeys(byID) {
			value := byID[key]
			fields, isObject := value.(map[string]any)
			if isObject && isDigits(key) {
				id, _ := parseID(key)
				categories = append(categories, categoryFromFields(id, fields, meta, idFieldKeys))
				continue
			}
			id, ok := categoryPrefix(key)
			if !ok && isObject {
				if id, ok = idFromFields(fields); ok {
					categories = append(categories, categoryFromFields(id, fields, meta, idFieldKeys))
					continue
				}
			}
			if !ok {
				zap.S().Debugw("skipping category value without id", "key", key)
				continue
			}
			if grouped[id] == nil {
				grouped[id] = make(map[string]any)
				order = append(order, id)
			}
			grouped[id][key] = value
		}
		for _, id := range order {
			categories = append(categories, categoryFromFields(id, grouped[id], meta, nil))
		}
	}
	return categories, matched
}

func matchResultsObjectByID(root map[string]any) ([]otcs.CategoryWithValues, bool) {
	results, ok := root["results"].(map[string]any)
	if !ok {
		return nil, false
	}
	data, ok := results["data"].(map[string]any)
	if !ok {
		return nil, false
	}

	meta := categoryMetadata(results)
	var categories []otcs.CategoryWithValues
	for _, key := range sortedKeys(data) {
		id, ok := parseID(key)
		if !ok {
			continue
		}
		fields, ok := data[key].(map[string]any)
		if !ok {
			continue
		}
		categories = append(categories, categoryFromFields(id, fields, meta, idFieldKeys))
	}
	return categories, len(categories) > 0
}

func matchResultsData(root map[string]any) ([]otcs.CategoryWithValues, bool) {
	results, ok := root["results"].([]any)
	if !ok {
		return nil, false
	}

	var categories []otcs.CategoryWithValues
	for _, result := range results {
		resultObj, _ := result.(map[string]any)
		data, ok := resultObj["data"].(map[string]any)
		if !ok {
			continue
		}
		if category, ok := categoryFromDirectFields(data, categoryMetadata(resultObj)); ok {
			categories = append(categories, category)
		}
	}
	return categories, true
}

func matchResultsObjectData(root map[string]any) ([]otcs.CategoryWithValues, bool) {
	results, ok := root["results"].(map[string]any)
	if !ok {
		return nil, false
	}
	data, ok := results["data"].(map[string]any)
	if !ok {
		return nil, false
	}
	var categories []otcs.CategoryWithValues
	if category, ok := categoryFromDirectFields(data, categoryMetadata(results)); ok {
		categories = append(categories, category)
	}
	return categories, true
}

// categoryFromDirectFields decodes a data object holding one category's
// fields. The id comes from "id", "category_id", or the prefix of the
// first flattened attribute key.
func categoryFromDirectFields(data map[string]any, meta map[string]any) (otcs.CategoryWithValues, bool) {
	id, ok := idFromFields(data)
	if !ok {
		for _, key := range sortedKeys(data) {
			if id, ok = categoryPrefix(key); ok {
				break
			}
		}
	}
	if !ok {
		zap.S().Debugw("skipping category data without id", "keys", len(data))
		return otcs.CategoryWithValues{}, false
	}
	return categoryFromFields(id, data, meta, idFieldKeys), true
}

func categoryFromFields(id int64, fields map[string]any, meta map[string]any, exclude map[string]bool) otcs.CategoryWithValues {
	category := otcs.CategoryWithValues{
		ID:         id,
		Name:       categoryName(id, fields, meta),
		Attributes: make([]otcs.AttributeValue, 0, len(fields)),
	}

	for _, key := range sortedKeys(fields) {
		if isMetadataKey(key) || exclude[key] {
			continue
		}
		value := fields[key]
		category.Attributes = append(category.Attributes, otcs.AttributeValue{
			Key:   key,
			Name:  attributeDisplayName(key, fields, meta),
			Type:  runtimeType(value),
			Value: value,
		})
	}
	return category
}

func categoryName(id int64, fields map[string]any, meta map[string]any) string {
	if name, ok := fields["name"].(string); ok && name != "" {
		return name
	}
	if entry, ok := meta[formatID(id)].(map[string]any); ok {
		if name, ok := entry["name"].(string); ok && name != "" {
			return name
		}
	}
	return defaultCategoryName(id)
}

// attributeDisplayName prefers the "{key}_name" sibling, then the
// response metadata entry for key, then key itself.
func attributeDisplayName(key string, fields map[string]any, meta map[string]any) string {
	if name, ok := fields[key+"_name"].(string); ok && name != "" {
		return name
	}
	if entry, ok := meta[key].(map[string]any); ok {
		if name, ok := entry["name"].(string); ok && name != "" {
			return name
		}
	}
	return key
}

// categoryMetadata returns metadata.categories of a result object, if present.
func categoryMetadata(result map[string]any) map[string]any {
	metadata, _ := result["metadata"].(map[string]any)
	categories, _ := metadata["categories"].(map[string]any)
	return categories
}

// idFieldKeys name the fields that identify a category; they are never attribute values.
var idFieldKeys = map[string]bool{"id": true, "category_id": true}

func idFromFields(fields map[string]any) (int64, bool) {
	for _, idKey := range []string{"id", "category_id"} {
		if v, ok := fields[idKey]; ok {
			if id, ok := toID(v); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func toID(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	case json.Number:
		id, err := val.Int64()
		return id, err == nil
	case string:
		return parseID(val)
	}
	return 0, false
}
