package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewestMatch(t *testing.T) {
	dir := t.TempDir()
	start := time.Now().Add(-time.Hour)

	old := filepath.Join(dir, "trainer-0.0.0.tar.gz")
	newer := filepath.Join(dir, "trainer-0.1.0.tar.gz")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, newer, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	require.NoError(t, os.Chtimes(old, start.Add(time.Minute), start.Add(time.Minute)))
	require.NoError(t, os.Chtimes(newer, start.Add(2*time.Minute), start.Add(2*time.Minute)))

	got, ok := NewestMatch(dir, "trainer-*.tar.gz", start)
	require.True(t, ok)
	assert.Equal(t, newer, got)

	_, ok = NewestMatch(dir, "trainer-*.tar.gz", time.Now().Add(time.Hour))
	assert.False(t, ok)

	_, ok = NewestMatch(filepath.Join(dir, "missing"), "*", start)
	assert.False(t, ok)
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	require.NoError(t, WriteAtomic(path, []byte("hello"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
