package internal

import (
	"encoding/json"
	"testing"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCategories_CategoriesKeyedByID(t *testing.T) {
	raw := `{"results":[{"data":{"categories":{"42":{"name":"Invoice","amount":100,"amount_name":"Amount"}}}}]}`

	categories, err := DecodeCategories(json.RawMessage(raw))

	require.NoError(t, err)
	require.Len(t, categories, 1)
	category := categories[0]
	assert.Equal(t, int64(42), category.ID)
	assert.Equal(t, "Invoice", category.Name)
	require.Len(t, category.Attributes, 1)
	assert.Equal(t, otcs.AttributeValue{Key: "amount", Name: "Amount", Type: "number", Value: json.Number("100")}, category.Attributes[0])
}

func TestDecodeCategories_FlatValuesGroupedByPrefix(t *testing.T) {
	raw := `{"results":[
		{"data":{"categories":{"11150_2":"ACME","11150_3":12.5,"11150_4":null}},
		 "metadata":{"categories":{"11150":{"name":"Invoice"},"11150_2":{"name":"Vendor"}}}},
		{"data":{"categories":{"20_1":["a","b"],"20_2":{"k":"v"},"20_2_name":"Extra"}}}
	]}`

	categories, err := DecodeCategories(json.RawMessage(raw))

	require.NoError(t, err)
	require.Len(t, categories, 2)

	invoice := categories[0]
	assert.Equal(t, int64(11150), invoice.ID)
	assert.Equal(t, "Invoice", invoice.Name, "name from response metadata")
	require.Len(t, invoice.Attributes, 3)
	assert.Equal(t, "Vendor", invoice.Attributes[0].Name)
	assert.Equal(t, "string", invoice.Attributes[0].Type)
	assert.Equal(t, "number", invoice.Attributes[1].Type)
	assert.Equal(t, "11150_3", invoice.Attributes[1].Name, "key used without a display name")
	assert.Equal(t, "object", invoice.Attributes[2].Type, "null is typed like an object")

	second := categories[1]
	assert.Equal(t, int64(20), second.ID)
	assert.Equal(t, "Category 20", second.Name)
	require.Len(t, second.Attributes, 2)
	assert.Equal(t, "object", second.Attributes[0].Type)
	assert.Equal(t, "Extra", second.Attributes[1].Name)
	assert.Equal(t, "object", second.Attributes[1].Type)
}

func TestDecodeCategories_KeepsNumberPrecision(t *testing.T) {
	raw := `{"results":[{"data":{"categories":{"42":{"42_2":9007199254740993,"42_3":0.1}}}}]}`

	category, err := DecodeCategory(json.RawMessage(raw))

	require.NoError(t, err)
	require.NotNil(t, category)
	require.Len(t, category.Attributes, 2)
	assert.Equal(t, json.Number("9007199254740993"), category.Attributes[0].Value)
	assert.Equal(t, "number", category.Attributes[0].Type)
	assert.Equal(t, json.Number("0.1"), category.Attributes[1].Value)
}

func TestDecodeCategories_IDFieldsAreNotAttributes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "categories keyed by id", raw: `{"results":[{"data":{"categories":{"42":{"id":42,"category_id":42,"42_2":"x"}}}}]}`},
		{name: "categories keyed by name", raw: `{"results":[{"data":{"categories":{"invoice":{"id":42,"42_2":"x"}}}}]}`},
		{name: "results object keyed by id", raw: `{"results":{"data":{"42":{"category_id":"42","42_2":"x"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			categories, err := DecodeCategories(json.RawMessage(tt.raw))
			require.NoError(t, err)
			require.Len(t, categories, 1)
			assert.Equal(t, int64(42), categories[0].ID)
			assert.Equal(t, []otcs.AttributeValue{
				{Key: "42_2", Name: "42_2", Type: "string", Value: "x"},
			}, categories[0].Attributes)
		})
	}
}

func TestDecodeCategories_ResultsObjectKeyedByID(t *testing.T) {
	raw := `{"results":{"data":{"7":{"name":"Contract","7_2":"2024-01-01","7_3":true},"8":{"8_1":"x"}}}}`

	categories, err := DecodeCategories(json.RawMessage(raw))

	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Contract", categories[0].Name)
	assert.Equal(t, []otcs.AttributeValue{
		{Key: "7_2", Name: "7_2", Type: "string", Value: "2024-01-01"},
		{Key: "7_3", Name: "7_3", Type: "boolean", Value: true},
	}, categories[0].Attributes)
	assert.Equal(t, "Category 8", categories[1].Name)
}

func TestDecodeCategories_DirectFields(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID int64
	}{
		{name: "id field", raw: `{"results":[{"data":{"id":31,"name":"HR","31_2":"x"}}]}`, wantID: 31},
		{name: "category_id field", raw: `{"results":[{"data":{"category_id":"32","32_2":"x"}}]}`, wantID: 32},
		{name: "key prefix", raw: `{"results":[{"data":{"33_2":"x"}}]}`, wantID: 33},
		{name: "results object", raw: `{"results":{"data":{"id":34,"34_2":"x"}}}`, wantID: 34},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			categories, err := DecodeCategories(json.RawMessage(tt.raw))
			require.NoError(t, err)
			require.Len(t, categories, 1)
			assert.Equal(t, tt.wantID, categories[0].ID)
			require.Len(t, categories[0].Attributes, 1, "id fields are not attributes")
			assert.Equal(t, "x", categories[0].Attributes[0].Value)
		})
	}
}

func TestDecodeCategories_UnrecognizedShapes(t *testing.T) {
	for _, raw := range []string{``, `{}`, `[]`, `"text"`, `{"results":[]}`, `{"results":{"data":{}}}`, `{"other":1}`} {
		categories, err := DecodeCategories(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Empty(t, categories, raw)
	}

	category, err := DecodeCategory(json.RawMessage(`{"results":[]}`))
	require.NoError(t, err)
	assert.Nil(t, category)
}

func TestDecodeCategories_InvalidJSON(t *testing.T) {
	_, err := DecodeCategories(json.RawMessage(`{"results":`))

	require.Error(t, err)
	assert.Equal(t, otcs.ErrCodeInvalidResponse, otcs.ErrorCode(err))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := otcs.ValueMap{
		"1": "Project X",
		"2": []any{
			map[string]any{"1": "A", "6": 1.0, "9": []any{map[string]any{"1": "deep"}}},
			map[string]any{"1": "B", "6": 2.5},
		},
		"4": map[string]any{"3": map[string]any{"1": true}},
		"5": []any{"red", "blue"},
	}
	pairs, warnings := EncodeValues(values, 11150)
	require.Empty(t, warnings)

	// the server returns each written key with its stored value
	stored := make(map[string]any)
	for key, vals := range pairs.Values() {
		if len(vals) == 1 {
			stored[key] = vals[0]
			continue
		}
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		stored[key] = list
	}
	raw, err := json.Marshal(map[string]any{
		"results": []any{map[string]any{"data": map[string]any{"categories": stored}}},
	})
	require.NoError(t, err)

	category, err := DecodeCategory(raw)
	require.NoError(t, err)
	require.NotNil(t, category)
	assert.Equal(t, int64(11150), category.ID)

	decoded := make(map[string]any, len(category.Attributes))
	for _, attr := range category.Attributes {
		decoded[attr.Key] = attr.Value
	}
	assert.Equal(t, map[string]any{
		"11150_1":         "Project X",
		"11150_2_1_1":     "A",
		"11150_2_1_6":     "1",
		"11150_2_1_9_1_1": "deep",
		"11150_2_2_1":     "B",
		"11150_2_2_6":     "2.5",
		"11150_4_3_1":     "true",
		"11150_5":         []any{"red", "blue"},
	}, decoded)
}
