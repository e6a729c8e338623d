package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "old.zip")
	fresh := filepath.Join(dir, "fresh.zip")
	sub := filepath.Join(dir, "nested")

	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))
	require.NoError(t, os.Mkdir(sub, 0o755))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(sub, past, past))

	removed, err := RemoveStale(dir, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, sub)
}

func TestRemoveStale_MissingDir(t *testing.T) {
	removed, err := RemoveStale(filepath.Join(t.TempDir(), "missing"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSafeBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"memories.zip", "memories.zip"},
		{"../../etc/passwd", "passwd"},
		{`..\..\evil.zip`, "evil.zip"},
		{"", "fallback"},
		{"..", "fallback"},
		{"/", "fallback"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeBase(tt.in, "fallback"), tt.in)
	}
}
