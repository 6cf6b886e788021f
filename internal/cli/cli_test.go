package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDecodeCommand(t *testing.T) {
	data := writeFile(t, "people.csv", "id,name\n1, ann \n2,bob\n3,cy\n")

	out, err := execute(t, "decode", "--format", "json", "-n", "2", data)
	require.NoError(t, err)

	var res struct {
		Columns  []string         `json:"columns"`
		RowCount int              `json:"row_count"`
		Rows     []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "ann", res.Rows[0]["name"])

	out, err = execute(t, "decode", data)
	require.NoError(t, err)
	assert.Contains(t, out, "format=csv rows=3 columns=2")
	assert.Contains(t, out, "bob")
}

func TestDecodeCommand_Unsupported(t *testing.T) {
	_, err := execute(t, "decode", writeFile(t, "notes.pdf", "x"))
	assert.ErrorContains(t, err, "unsupported file extension")
}

func TestCompileCommand_Offline(t *testing.T) {
	out, err := execute(t, "compile", "--offline", "--format", "json", "dedup", "by", "email")
	require.NoError(t, err)

	var desc struct {
		Category   string          `json:"category"`
		Definition json.RawMessage `json:"definition"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &desc))
	assert.Equal(t, "dedup", desc.Category)
	assert.Contains(t, string(desc.Definition), `"keys":["email"]`)
}

func TestPreviewCommand(t *testing.T) {
	data := writeFile(t, "people.csv", "id,name,email\n1,ann,a@x.io\n2,bob,\n3,cy,c@x.io\n")

	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "yaml definition",
			file: "rule.yaml",
			body: `
transforms:
  - name: uppercase
    columns: [name]
checks:
  - name: require_columns
    columns: [email]
    action: drop
`,
		},
		{
			name: "json descriptor",
			file: "rule.json",
			body: `{"name":"clean people","definition":{"transforms":[{"name":"uppercase","columns":["name"]}],"checks":[{"name":"require_columns","columns":["email"],"action":"drop"}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := writeFile(t, tt.file, tt.body)
			out, err := execute(t, "preview", "--format", "json", "--rule", rule, data)
			require.NoError(t, err)

			var res struct {
				Rows    []map[string]any `json:"rows"`
				Metrics map[string]any   `json:"metrics"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			require.Len(t, res.Rows, 2)
			assert.Equal(t, "ANN", res.Rows[0]["name"])
			assert.EqualValues(t, 1, res.Metrics["dropped_rows"])
		})
	}
}

func TestPreviewCommand_InvalidRule(t *testing.T) {
	data := writeFile(t, "people.csv", "id\n1\n")
	rule := writeFile(t, "rule.yaml", "checks:\n  - name: regex\n    column: id\n    pattern: \"(\"\n")
	_, err := execute(t, "preview", "--rule", rule, data)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "cli-test-secret")
	t.Setenv("AUTH_JWT_ISSUER", "domainkeeper")

	out, err := execute(t, "token", "--user", "u1", "--tenant", "t1", "--role", "editor")
	require.NoError(t, err)

	user, err := auth.New("cli-test-secret", "domainkeeper").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.User{ID: "u1", TenantID: "t1", Role: auth.RoleEditor}, user)

	_, err = execute(t, "token", "--user", "u1", "--tenant", "t1", "--role", "owner")
	assert.ErrorContains(t, err, "unknown role")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "decode", "--format", "xml", "x.csv")
	assert.ErrorContains(t, err, "invalid format")
}
