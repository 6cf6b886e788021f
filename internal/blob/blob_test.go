package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
)

func TestResolve(t *testing.T) {
	f := NewFS("/data", 0, 0)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.csv", "/data/a.csv", false},
		{"tenant/a.csv", "/data/tenant/a.csv", false},
		{"/tenant/a.csv", "/data/tenant/a.csv", false},
		{"tenant/./a.csv", "/data/tenant/a.csv", false},
		{"../etc/passwd", "", true},
		{"tenant/../../etc/passwd", "", true},
		{`tenant\a.csv`, "", true},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := f.Resolve(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestDownload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "a.csv"), []byte("email\na@x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.csv"), make([]byte, 64), 0o644))

	f := NewFS(root, 32, 1)
	ctx := context.Background()

	data, err := f.Download(ctx, "acme/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "email\na@x\n", string(data))

	_, err = f.Download(ctx, "acme/missing.csv")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.Download(ctx, "acme")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "directories are not objects")

	_, err = f.Download(ctx, "big.csv")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
