package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TaggedVariants(t *testing.T) {
	doc := `{
		"transforms": [
			{"name": "trim", "columns": ["name"]},
			{"name": "split", "column": "Year", "pattern": "^FY(\\d{2})/(\\d{2})$", "targets": ["FYStart", "FYEnd"]}
		],
		"checks": [
			{"name": "require_columns", "columns": ["email"], "action": "drop"}
		],
		"meta": {"dedup": {"keys": ["email"], "keep": "last"}, "note": "n", "source": "fast_path"}
	}`

	def, err := Parse([]byte(doc))
	require.NoError(t, err)

	require.Len(t, def.Transforms, 2)
	assert.Equal(t, Trim{Columns: Columns{"name"}}, def.Transforms[0])
	split, ok := def.Transforms[1].(Split)
	require.True(t, ok)
	assert.Equal(t, []string{"FYStart", "FYEnd"}, split.Targets)

	require.Len(t, def.Checks, 1)
	assert.Equal(t, RequireColumns{Columns: []string{"email"}, Action: ActionDrop}, def.Checks[0])

	require.NotNil(t, def.Meta.Dedup)
	assert.True(t, def.Meta.Dedup.KeepsLast())
	assert.Equal(t, "n", def.Meta.Note)
	assert.Equal(t, "fast_path", def.Meta.Extra["source"])
}

func TestDefinition_MarshalKeepsNameAndExtras(t *testing.T) {
	def := Definition{
		Transforms: Transforms{Lowercase{Columns: Columns{"email"}}},
		Meta:       Meta{Note: "Unparsed AI output", Extra: map[string]any{"category": "x"}},
	}

	data, err := json.Marshal(def)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))

	transforms := generic["transforms"].([]any)
	assert.Equal(t, "lowercase", transforms[0].(map[string]any)["name"])
	assert.Equal(t, []any{}, generic["checks"], "nil checks encode as an empty array")

	meta := generic["meta"].(map[string]any)
	assert.Equal(t, "Unparsed AI output", meta["note"])
	assert.Equal(t, "x", meta["category"])
	assert.NotContains(t, meta, "dedup")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{"unknown transform", `{"transforms":[{"name":"explode"}]}`, "transforms[0]"},
		{"unknown check", `{"checks":[{"name":"x"}]}`, "checks[0]"},
		{"missing name", `{"transforms":[{"columns":["a"]}]}`, "transforms[0]"},
		{"not an array", `{"transforms":{}}`, "transforms"},
		{"bad regex", `{"transforms":[{"name":"replace","from":"("}]}`, "transforms[0].from"},
		{"bad condition", `{"checks":[{"name":"drop_if","condition":"amount"}]}`, "checks[0].condition"},
		{"bad dedup keep", `{"meta":{"dedup":{"keys":["a"],"keep":"middle"}}}`, "meta.dedup.keep"},
		{"empty dedup keys", `{"meta":{"dedup":{"keys":[]}}}`, "meta.dedup.keys"},
		{"bad flag", `{"checks":[{"name":"drop_if_pattern","column":"a","pattern":"x","flags":"g"}]}`, "checks[0].flags"},
		{"range without bounds", `{"checks":[{"name":"drop_if_out_of_range","column":"a"}]}`, "checks[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantPath, verr.Path)
		})
	}
}

func TestParse_NotJSON(t *testing.T) {
	_, err := Parse([]byte("{"))
	assert.True(t, IsValidationError(err))
}
