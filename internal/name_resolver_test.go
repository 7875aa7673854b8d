package internal

import (
	"context"
	"errors"
	"testing"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aggregateNodeForm = `{"forms": [
  {"schema": {"properties": {"name": {"type": "string", "title": "Name"}}}},
  {"schema": {"properties": {
    "10": {"type": "object", "title": "Project", "properties": {
      "10_3": {"type": "string", "format": "date", "title": "Due Date"},
      "10_7": {"type": "array", "title": "Lines", "items": {"type": "object", "properties": {
        "10_7_x_2": {"type": "number", "title": "Line Amount"}
      }}}
    }},
    "20": {"type": "object", "title": "Invoice", "properties": {
      "20_1": {"type": "string", "title": "Vendor"},
      "20_2": {"type": "string", "title": "Due-Date"}
    }}
  }}}
]}`

func TestNormalizeName(t *testing.T) {
	same := []string{"Equipment_Number", "equipment number", "Equipment-Number", "EQUIPMENT.NUMBER", " equipment/(number) "}
	for _, name := range same {
		assert.Equal(t, "equipmentnumber", NormalizeName(name), name)
	}

	for _, s := range []string{"Due Date", "a_b-c/d(e)f.g h", "ÄÖÜ Straße", "", "__"} {
		once := NormalizeName(s)
		assert.Equal(t, once, NormalizeName(once), "normalization is idempotent for %q", s)
	}
}

func TestNameResolver_AggregateForm(t *testing.T) {
	transport := newStubTransport().on("GET", nodeFormPath, "id=500", aggregateNodeForm)
	resolver := NewNameResolver(transport, 2)

	idx, err := resolver.BuildIndex(context.Background(), 500)
	require.NoError(t, err)

	key, ok := Resolve(idx, "dueDate")
	require.True(t, ok)
	assert.Equal(t, "10_3", key)

	key, ok = Resolve(idx, "Line_Amount")
	require.True(t, ok)
	assert.Equal(t, "10_7_1_2", key)

	key, ok = Resolve(idx, "lines")
	require.True(t, ok)
	assert.Equal(t, "10_7", key)

	_, ok = Resolve(idx, "Project")
	assert.False(t, ok, "category containers are not registered")
	_, ok = Resolve(idx, "Name")
	assert.False(t, ok, "non-category properties are not addressable")

	assert.Equal(t, "10_3", idx["duedate"], "first registration of a name wins")
	assert.Len(t, transport.requests, 1)
}

func TestNameResolver_FallsBackToPerCategoryForms(t *testing.T) {
	transport := newStubTransport().
		fail("GET", nodeFormPath, "id=600", otcs.NewRequestError("GET", nodeFormPath, 400, "unsupported")).
		on("GET", nodeCategoriesPath(600), "", `{"results":[
			{"data":{"categories":{"10_3":"2024-01-01"}}},
			{"data":{"categories":{"20_1":"ACME"}}},
			{"data":{"categories":{"30_1":"x"}}}
		]}`).
		on("GET", categoryCreateFormPath, "category_id=10&id=600", `{"forms":[{"schema":{"properties":{
			"10": {"type":"object","properties":{
				"10_3": {"type":"string","title":"Due Date"},
				"10_7": {"type":"array","items":{"type":"object","properties":{"10_7_x_2":{"type":"number","title":"Line Amount"}}}}
			}}}}}]}`).
		on("GET", categoryCreateFormPath, "category_id=20&id=600", `{"forms":[{"schema":{"properties":{
			"1": {"type":"string","title":"Vendor"},
			"2": {"type":"string","title":"Due Date"}
		}}}]}`).
		fail("GET", categoryCreateFormPath, "category_id=30&id=600", errors.New("boom"))

	idx, err := NewNameResolver(transport, 3).BuildIndex(context.Background(), 600)
	require.NoError(t, err, "a failing category form is skipped")

	assert.Equal(t, otcs.NameIndex{
		"duedate":    "10_3",
		"lineamount": "10_7_1_2",
		"vendor":     "20_1",
	}, idx, "the untitled set 10_7 is not indexed under its own key")
}

func TestNameResolver_ListFailure(t *testing.T) {
	transport := newStubTransport().
		on("GET", nodeFormPath, "id=700", `{"forms":[]}`).
		fail("GET", nodeCategoriesPath(700), "", errors.New("down"))

	_, err := NewNameResolver(transport, 1).BuildIndex(context.Background(), 700)

	require.Error(t, err)
}

func TestNeedsResolution(t *testing.T) {
	assert.False(t, NeedsResolution(otcs.ValueMap{"2": 1, "11150_2_1_6": 2}))
	assert.True(t, NeedsResolution(otcs.ValueMap{"2": 1, "Due Date": 2}))
	assert.True(t, NeedsResolution(otcs.ValueMap{"11150_2_x": 1}))
	assert.False(t, NeedsResolution(otcs.ValueMap{}))
}

func TestResolveValues(t *testing.T) {
	idx := otcs.NameIndex{
		"duedate":    "10_3",
		"lineamount": "10_7_1_2",
		"lines":      "10_7",
		"vendor":     "20_1",
	}
	values := otcs.ValueMap{
		"Due Date":    "2024-05-01",
		"Line_Amount": 9.5,
		"Lines":       []any{map[string]any{"2": 1}},
		"Vendor":      "ACME",
		"Unknown":     "x",
		"4":           "bare",
		"10_5":        "flat",
	}

	resolved, skipped := ResolveValues(idx, 10, values)

	assert.Equal(t, otcs.ValueMap{
		"3":        "2024-05-01",
		"10_7_1_2": 9.5,
		"7":        []any{map[string]any{"2": 1}},
		"4":        "bare",
		"10_5":     "flat",
	}, resolved)
	require.Len(t, skipped, 2)
	assert.Equal(t, "Unknown", skipped[0].Key)
	assert.Equal(t, "Vendor", skipped[1].Key)
	assert.Contains(t, skipped[1].Reason, "category 20")
}

func TestResolveValues_DuplicateTarget(t *testing.T) {
	idx := otcs.NameIndex{"duedate": "10_3"}

	resolved, skipped := ResolveValues(idx, 10, otcs.ValueMap{"3": "explicit", "Due Date": "by name"})

	assert.Equal(t, otcs.ValueMap{"3": "explicit"}, resolved)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Due Date", skipped[0].Key)
}

func TestResolvedValuesEncodeToScenarioKeys(t *testing.T) {
	idx := otcs.NameIndex{"lines": "10_7", "lineamount": "10_7_1_2"}
	values := otcs.ValueMap{
		"Lines": []any{map[string]any{"2": 1.0}, map[string]any{"2": 2.0}},
	}

	resolved, skipped := ResolveValues(idx, 10, values)
	require.Empty(t, skipped)
	pairs, _ := EncodeValues(resolved, 10)

	assert.Equal(t, []string{"10_7_1_2", "10_7_2_2"}, pairs.Keys())
}
