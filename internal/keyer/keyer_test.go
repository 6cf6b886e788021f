package keyer

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/record"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestEffective(t *testing.T) {
	tests := []struct {
		name   string
		key    []string
		header []string
		want   []string
	}{
		{"all present", []string{"email", "region"}, []string{"region", "email", "n"}, []string{"email", "region"}},
		{"one missing", []string{"email", "region"}, []string{"email"}, []string{"email"}},
		{"none present", []string{"email"}, []string{"n"}, []string{RowIndexColumn}},
		{"empty key", nil, []string{"n"}, []string{RowIndexColumn}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.key).Effective(tt.header))
		})
	}
}

func TestCompute_HashMatchesPipeJoin(t *testing.T) {
	row := record.Record{"email": record.String("a@x"), "n": record.Int(1)}

	k := Compute([]string{"email"}, row, 0)
	assert.Equal(t, sha("a@x"), k.Hash)
	assert.Equal(t, record.Record{"email": record.String("a@x")}, k.Values)
	assert.False(t, k.IsExtended())

	ext := Compute(Extend(k.Columns), row, 1)
	assert.Equal(t, sha("a@x|1"), ext.Hash)
	assert.Equal(t, record.Int(1), ext.Values[RowIndexColumn])
	assert.True(t, ext.IsExtended())
}

func TestCompute_StringifyPolicy(t *testing.T) {
	row := record.Record{
		"a": record.Null{},
		"b": record.Float(2.50),
		"c": record.Bool(true),
	}
	k := Compute([]string{"a", "b", "c", "missing"}, row, 0)
	assert.Equal(t, sha("|2.5|true|"), k.Hash)
	assert.Equal(t, record.Null{}, k.Values["missing"])
}

func TestCompute_InvariantUnderColumnOrder(t *testing.T) {
	r1 := record.Record{"id": record.Int(7), "region": record.String("eu"), "x": record.String("1")}
	r2 := record.Record{"x": record.String("1"), "region": record.String("eu"), "id": record.Int(7)}

	cols := New([]string{"region", "id"}).Effective([]string{"x", "id", "region"})
	require.Equal(t, []string{"region", "id"}, cols)

	assert.Equal(t, Compute(cols, r1, 0).Hash, Compute(cols, r2, 5).Hash)
}

func TestExtend_Idempotent(t *testing.T) {
	cols := Extend([]string{"email"})
	assert.Equal(t, []string{"email", RowIndexColumn}, cols)
	assert.Equal(t, cols, Extend(cols))
}

func TestCompute_RowIndexOnly(t *testing.T) {
	k := Compute([]string{RowIndexColumn}, record.Record{}, 3)
	assert.Equal(t, sha("3"), k.Hash)
}
