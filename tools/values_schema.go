package tools

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	otcs "github.com/pneumacap/otcs-mcp-sub000"
)

// CategoryValuesSchema describes the values object accepted for a category
// write. Sets become arrays of row objects; read-only attributes are left out.
func CategoryValuesSchema(def *otcs.CategoryDefinition) *jsonschema.Schema {
	schema := objectSchema(def.Attributes)
	schema.Title = def.CategoryName
	schema.Description = "Values for category " + strconv.FormatInt(def.CategoryID, 10) +
		". Keys are attribute ids; attribute names are also accepted."
	return schema
}

func objectSchema(attrs []otcs.Attribute) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	for _, attr := range attrs {
		info := attr.Info()
		if info.ReadOnly {
			continue
		}
		id := attributeID(info.Key)
		schema.Properties.Set(id, attributeSchema(attr))
		if info.Required {
			schema.Required = append(schema.Required, id)
		}
	}
	return schema
}

func attributeSchema(attr otcs.Attribute) *jsonschema.Schema {
	info := attr.Info()
	if set, ok := attr.(*otcs.SetAttribute); ok {
		rows := objectSchema(set.Children)
		return &jsonschema.Schema{
			Type:        "array",
			Title:       info.Name,
			Description: info.Description,
			Items:       rows,
		}
	}

	schema := scalarSchema(info)
	if info.MultiValue {
		schema = &jsonschema.Schema{Type: "array", Items: schema}
	}
	schema.Title = info.Name
	schema.Description = info.Description
	schema.Default = info.DefaultValue
	return schema
}

func scalarSchema(info otcs.AttributeInfo) *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	switch info.Type {
	case otcs.AttributeTypeNumber, otcs.AttributeTypeInteger, otcs.AttributeTypeBoolean, otcs.AttributeTypeObject:
		schema.Type = string(info.Type)
	case otcs.AttributeTypeDate:
		schema.Type = "string"
		schema.Format = "date"
	default:
		schema.Type = "string"
	}

	if info.MaxLength != nil && *info.MaxLength >= 0 {
		maxLength := uint64(*info.MaxLength)
		schema.MaxLength = &maxLength
	}
	if info.MinValue != nil {
		schema.Minimum = json.Number(strconv.FormatFloat(*info.MinValue, 'f', -1, 64))
	}
	if info.MaxValue != nil {
		schema.Maximum = json.Number(strconv.FormatFloat(*info.MaxValue, 'f', -1, 64))
	}
	for _, v := range info.ValidValues {
		schema.Enum = append(schema.Enum, v.Key)
	}
	return schema
}

// attributeID is the key a values object uses for an attribute: "10_7" is
// written as "7" and a set child "10_7_x_2" as "2" inside its row.
func attributeID(key string) string {
	if i := strings.LastIndexByte(key, '_'); i >= 0 {
		return key[i+1:]
	}
	return key
}
