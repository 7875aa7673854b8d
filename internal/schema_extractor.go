package internal

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

// childOptionPaths lists where the array-of-object set encoding keeps the
// UI options of its children, relative to the set's own field options.
var childOptionPaths = [][]string{
	{"fields", "item", "fields"},
	{"fields", "items", "fields"},
	{"item", "fields"},
	{"items", "fields"},
}

// ExtractAttributes builds the attribute tree of every form in resp.
// Missing schema parts degrade to defaults; it never fails.
func ExtractAttributes(resp *otcs.FormResponse) []otcs.Attribute {
	attrs := make([]otcs.Attribute, 0)
	if resp == nil {
		return attrs
	}
	for i := range resp.Forms {
		form := &resp.Forms[i]
		if form.Schema == nil {
			continue
		}
		attrs = append(attrs, extractProperties(form.Schema, form.FieldOptions(), form.Data)...)
	}
	return attrs
}

// ExtractCategoryDefinition extracts the schema of one category. Category
// forms wrap their attributes in a single container keyed by the category
// id; that container is unwrapped.
func ExtractCategoryDefinition(resp *otcs.FormResponse, categoryID int64) *otcs.CategoryDefinition {
	attrs := ExtractAttributes(resp)
	name := ""

	if len(attrs) == 1 {
		if container, ok := attrs[0].(*otcs.SetAttribute); ok && container.Key == formatID(categoryID) {
			attrs = container.Children
			if container.Name != container.Key {
				name = container.Name
			}
		}
	}
	if name == "" && resp != nil {
		for _, form := range resp.Forms {
			if form.Schema != nil && form.Schema.Title != "" {
				name = form.Schema.Title
				break
			}
		}
	}
	if name == "" {
		name = defaultCategoryName(categoryID)
	}

	return &otcs.CategoryDefinition{
		CategoryID:   categoryID,
		CategoryName: name,
		Attributes:   attrs,
	}
}

func defaultCategoryName(categoryID int64) string {
	return fmt.Sprintf("Category %d", categoryID)
}

func extractProperties(schema *jsonschema.Schema, fieldOpts map[string]any, data map[string]any) []otcs.Attribute {
	attrs := make([]otcs.Attribute, 0, len(schema.Properties))
	required := make(map[string]bool, len(schema.Required))
	for _, key := range schema.Required {
		required[key] = true
	}

	for _, key := range sortedKeys(schema.Properties) {
		prop := schema.Properties[key]
		if prop == nil {
			continue
		}
		opts, _ := fieldOpts[key].(map[string]any)
		attrs = append(attrs, extractAttribute(key, prop, opts, required[key], data[key]))
	}
	return attrs
}

func extractAttribute(key string, prop *jsonschema.Schema, opts map[string]any, required bool, data any) otcs.Attribute {
	attrType := schemaType(prop)
	info := otcs.AttributeInfo{
		Key:          key,
		Name:         attributeName(key, prop, opts),
		Type:         otcs.AttributeType(attrType),
		Description:  attributeDescription(prop, opts),
		Required:     required,
		MultiValue:   attrType == "array",
		ReadOnly:     prop.ReadOnly || boolOption(opts, "readonly"),
		Hidden:       boolOption(opts, "hidden"),
		MaxLength:    prop.MaxLength,
		MinValue:     prop.Minimum,
		MaxValue:     prop.Maximum,
		DefaultValue: decodeDefault(key, prop.Default),
		ValidValues:  validValues(prop.Enum, opts),
	}

	switch {
	case attrType == "array" && prop.Items != nil && schemaType(prop.Items) == "object":
		// array-of-object set: rows are array positions
		set := newSet(info)
		set.Children = extractChildren(prop.Items, arrayChildOptions(opts))
		if rows, ok := data.([]any); ok {
			set.SetRows = intPtr(len(rows))
		}
		return set

	case attrType == "object" && prop.Properties != nil:
		// inline-object set: rows are numeric string keys
		set := newSet(info)
		childOpts, _ := opts["fields"].(map[string]any)
		set.Children = extractChildren(prop, childOpts)
		if rows, ok := data.(map[string]any); ok {
			count := 0
			for rowKey := range rows {
				if isDigits(rowKey) {
					count++
				}
			}
			set.SetRows = intPtr(count)
		}
		return set
	}

	return &otcs.ScalarAttribute{AttributeInfo: info}
}

func newSet(info otcs.AttributeInfo) *otcs.SetAttribute {
	info.Type = otcs.AttributeTypeSet
	info.MultiValue = false
	return &otcs.SetAttribute{AttributeInfo: info, IsSet: true, Children: []otcs.Attribute{}}
}

// extractChildren never passes row data down: row indices are injected
// during flattening, not stored on the child schema.
func extractChildren(schema *jsonschema.Schema, childOpts map[string]any) []otcs.Attribute {
	if schema.Properties == nil {
		return []otcs.Attribute{}
	}
	return extractProperties(schema, childOpts, nil)
}

func arrayChildOptions(opts map[string]any) map[string]any {
	for _, path := range childOptionPaths {
		if fields, ok := lookupPath(opts, path).(map[string]any); ok {
			return fields
		}
	}
	return nil
}

func lookupPath(m map[string]any, path []string) any {
	var current any = m
	for _, segment := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[segment]
	}
	return current
}

func schemaType(schema *jsonschema.Schema) string {
	if schema.Type != "" {
		return schema.Type
	}
	for _, t := range schema.Types {
		if t != "null" {
			return t
		}
	}
	return string(otcs.AttributeTypeString)
}

func attributeName(key string, prop *jsonschema.Schema, opts map[string]any) string {
	if label, ok := opts["label"].(string); ok && label != "" {
		return label
	}
	if prop.Title != "" {
		return prop.Title
	}
	return key
}

func attributeDescription(prop *jsonschema.Schema, opts map[string]any) string {
	if helper, ok := opts["helper"].(string); ok && helper != "" {
		return helper
	}
	return prop.Description
}

func boolOption(opts map[string]any, name string) bool {
	v, _ := opts[name].(bool)
	return v
}

func decodeDefault(key string, raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		zap.S().Debugw("ignoring undecodable default value", "attribute", key, "error", err)
		return nil
	}
	return value
}

// validValues pairs enum entries with optionLabels by position. Labels
// without an enum serve as both key and value.
func validValues(enum []any, opts map[string]any) []otcs.ValidValue {
	labels, _ := opts["optionLabels"].([]any)
	if len(enum) == 0 && len(labels) == 0 {
		return nil
	}

	if len(enum) == 0 {
		values := make([]otcs.ValidValue, 0, len(labels))
		for _, label := range labels {
			values = append(values, otcs.ValidValue{Key: label, Value: stringify(label)})
		}
		return values
	}

	values := make([]otcs.ValidValue, 0, len(enum))
	for i, entry := range enum {
		display := stringify(entry)
		if i < len(labels) && labels[i] != nil {
			display = stringify(labels[i])
		}
		values = append(values, otcs.ValidValue{Key: entry, Value: display})
	}
	return values
}

func intPtr(n int) *int {
	return &n
}
