package otcs

import (
	"net/url"
	"strings"
)

// AttributeType is the schema-declared type of a category attribute.
type AttributeType string

const (
	AttributeTypeString  AttributeType = "string"
	AttributeTypeNumber  AttributeType = "number"
	AttributeTypeInteger AttributeType = "integer"
	AttributeTypeBoolean AttributeType = "boolean"
	AttributeTypeDate    AttributeType = "date"
	AttributeTypeObject  AttributeType = "object"
	AttributeTypeArray   AttributeType = "array"
	AttributeTypeSet     AttributeType = "set" // synthetic: repeatable group of child attributes
)

// ValidValue is one entry of an enumerated option list.
type ValidValue struct {
	Key   any    `json:"key"`
	Value string `json:"value"`
}

// AttributeInfo holds the fields shared by scalar and set attributes.
type AttributeInfo struct {
	Key          string        `json:"key"`
	Name         string        `json:"name"`
	Type         AttributeType `json:"type"`
	Description  string        `json:"description,omitempty"`
	Required     bool          `json:"required"`
	MultiValue   bool          `json:"multi_value"`
	ReadOnly     bool          `json:"read_only"`
	Hidden       bool          `json:"hidden"`
	MaxLength    *int          `json:"max_length,omitempty"`
	MinValue     *float64      `json:"min_value,omitempty"`
	MaxValue     *float64      `json:"max_value,omitempty"`
	DefaultValue any           `json:"default_value,omitempty"`
	ValidValues  []ValidValue  `json:"valid_values,omitempty"`
}

// Info returns the shared attribute fields.
func (a AttributeInfo) Info() AttributeInfo { return a }

// Attribute is a node of a category attribute tree. It is either a
// *ScalarAttribute or a *SetAttribute; callers switch on the concrete type.
type Attribute interface {
	Info() AttributeInfo
	isAttribute()
}

// ScalarAttribute is a leaf attribute (single or multi value).
type ScalarAttribute struct {
	AttributeInfo
}

func (*ScalarAttribute) isAttribute() {}

// SetAttribute is a repeatable group of child attributes.
type SetAttribute struct {
	AttributeInfo
	IsSet    bool        `json:"is_set"`
	Children []Attribute `json:"children"`
	// SetRows is the number of data rows observed in the form data, if any.
	// Display only.
	SetRows *int `json:"set_rows,omitempty"`
}

func (*SetAttribute) isAttribute() {}

// Walk visits attrs depth-first. parent is nil for top-level attributes.
// Returning false from fn skips the children of a set.
func Walk(attrs []Attribute, fn func(attr Attribute, parent *SetAttribute) bool) {
	walk(attrs, nil, fn)
}

func walk(attrs []Attribute, parent *SetAttribute, fn func(Attribute, *SetAttribute) bool) {
	for _, attr := range attrs {
		descend := fn(attr, parent)
		if set, ok := attr.(*SetAttribute); ok && descend {
			walk(set.Children, set, fn)
		}
	}
}

// CategoryDefinition is the schema of one category, independent of any node.
type CategoryDefinition struct {
	CategoryID   int64       `json:"category_id"`
	CategoryName string      `json:"category_name"`
	Attributes   []Attribute `json:"attributes"`
}

// AttributeValue is one observed attribute value on a node.
type AttributeValue struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// CategoryWithValues is a category applied to a node with its flat value list.
type CategoryWithValues struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Attributes []AttributeValue `json:"attributes"`
}

// ValueMap carries attribute values for a write. Keys are bare attribute ids,
// flattened keys ("{cat}_{attr}..."), or friendly attribute names.
type ValueMap map[string]any

// FlatPair is one key/value of a form-encoded write body.
type FlatPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FlatPairs is an ordered form body. A key may repeat for multi-value attributes.
type FlatPairs []FlatPair

// Add appends a pair.
func (p *FlatPairs) Add(key, value string) {
	*p = append(*p, FlatPair{Key: key, Value: value})
}

// Encode renders the pairs as an application/x-www-form-urlencoded body,
// preserving order.
func (p FlatPairs) Encode() string {
	var sb strings.Builder
	for i, pair := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(pair.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(pair.Value))
	}
	return sb.String()
}

// Values groups the pairs by key. Values for a repeated key keep their order.
func (p FlatPairs) Values() url.Values {
	values := make(url.Values, len(p))
	for _, pair := range p {
		values[pair.Key] = append(values[pair.Key], pair.Value)
	}
	return values
}

// Keys returns the distinct keys in first-seen order.
func (p FlatPairs) Keys() []string {
	seen := make(map[string]bool, len(p))
	keys := make([]string, 0, len(p))
	for _, pair := range p {
		if seen[pair.Key] {
			continue
		}
		seen[pair.Key] = true
		keys = append(keys, pair.Key)
	}
	return keys
}

// SkippedKey reports a caller-supplied key that could not be written.
type SkippedKey struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// CategoryUpdateResult describes a single category write.
type CategoryUpdateResult struct {
	NodeID     int64        `json:"node_id"`
	CategoryID int64        `json:"category_id"`
	Applied    []string     `json:"applied"`
	Skipped    []SkippedKey `json:"skipped,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}

// CategoryFailure records a failed category write inside a batch.
type CategoryFailure struct {
	CategoryID int64  `json:"category_id"`
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
}

// WorkspaceMetadataResult collects the outcome of a multi-category write.
type WorkspaceMetadataResult struct {
	WorkspaceID int64                  `json:"workspace_id"`
	Updated     []CategoryUpdateResult `json:"updated"`
	Failed      []CategoryFailure      `json:"failed"`
	Skipped     []SkippedKey           `json:"skipped,omitempty"`
	Duration    int64                  `json:"duration"` // microseconds
}
