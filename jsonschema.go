package otcs

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

// FormResponse is the server's form description for a node or category.
type FormResponse struct {
	Forms []Form `json:"forms"`
}

// Form is one form of a FormResponse: a JSON-Schema-shaped schema, the
// per-field UI options, and optionally the node's current data.
type Form struct {
	Data    map[string]any     `json:"data,omitempty"`
	Schema  *jsonschema.Schema `json:"schema,omitempty"`
	Options map[string]any     `json:"options,omitempty"`
}

// UnmarshalJSON decodes a form without failing on schema keywords the
// jsonschema package rejects; offending subschemas are decoded leniently.
func (f *Form) UnmarshalJSON(data []byte) error {
	var raw struct {
		Data    any             `json:"data"`
		Schema  json.RawMessage `json:"schema"`
		Options any             `json:"options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Data, _ = raw.Data.(map[string]any)
	f.Options, _ = raw.Options.(map[string]any)

	schema, err := DecodeSchema(raw.Schema)
	if err != nil {
		zap.S().Warnw("form schema is not an object, ignoring it", "error", err)
	}
	f.Schema = schema
	return nil
}

// FieldOptions returns the options.fields map of the form.
func (f *Form) FieldOptions() map[string]any {
	fields, _ := f.Options["fields"].(map[string]any)
	return fields
}

// DecodeSchema decodes a JSON-Schema document. Strict decoding is attempted
// first; if it fails, the schema is rebuilt keyword by keyword and any
// property that still cannot be decoded is dropped.
func DecodeSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var strict jsonschema.Schema
	strictErr := json.Unmarshal(raw, &strict)
	if strictErr == nil {
		return &strict, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	zap.S().Debugw("strict schema decode failed, using lenient decode", "error", strictErr)

	schema := &jsonschema.Schema{}
	decodeString(fields["type"], &schema.Type)
	decodeString(fields["title"], &schema.Title)
	decodeString(fields["description"], &schema.Description)
	decodeString(fields["format"], &schema.Format)

	if rawDefault, ok := fields["default"]; ok {
		schema.Default = rawDefault
	}
	if rawEnum, ok := fields["enum"]; ok {
		var enum []any
		if json.Unmarshal(rawEnum, &enum) == nil {
			schema.Enum = enum
		}
	}
	if rawRequired, ok := fields["required"]; ok {
		var required []string
		if json.Unmarshal(rawRequired, &required) == nil {
			schema.Required = required
		}
	}
	if rawReadOnly, ok := fields["readOnly"]; ok {
		_ = json.Unmarshal(rawReadOnly, &schema.ReadOnly)
	}
	decodeNumber(fields["minimum"], &schema.Minimum)
	decodeNumber(fields["maximum"], &schema.Maximum)
	if rawMaxLength, ok := fields["maxLength"]; ok {
		var maxLength float64
		if json.Unmarshal(rawMaxLength, &maxLength) == nil {
			n := int(maxLength)
			schema.MaxLength = &n
		}
	}

	if rawProps, ok := fields["properties"]; ok {
		var props map[string]json.RawMessage
		if json.Unmarshal(rawProps, &props) == nil {
			schema.Properties = make(map[string]*jsonschema.Schema, len(props))
			for key, rawProp := range props {
				prop, err := DecodeSchema(rawProp)
				if err != nil || prop == nil {
					zap.S().Warnw("dropping undecodable schema property", "property", key, "error", err)
					continue
				}
				schema.Properties[key] = prop
			}
		}
	}
	if rawItems, ok := fields["items"]; ok {
		if items, err := DecodeSchema(rawItems); err == nil {
			schema.Items = items
		}
	}

	return schema, nil
}

func decodeString(raw json.RawMessage, dst *string) {
	if len(raw) == 0 {
		return
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		*dst = s
	}
}

func decodeNumber(raw json.RawMessage, dst **float64) {
	if len(raw) == 0 {
		return
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		*dst = &f
	}
}
