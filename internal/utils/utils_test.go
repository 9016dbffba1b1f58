package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestGetFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.png", "a.png", ".DS_Store")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writeFiles(t, filepath.Join(dir, "nested"), "c.png")

	files, err := GetFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, files)
}

func TestBuildImageIndex(t *testing.T) {
	root := t.TempDir()
	dir1 := filepath.Join(root, "images_001", "images")
	dir2 := filepath.Join(root, "images_002", "images")
	writeFiles(t, dir1, "00000001_000.png", "00000002_000.png")
	writeFiles(t, dir2, "00000002_000.png", "00000003_000.png")

	idx, err := BuildImageIndex([]string{dir1, dir2})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	path, ok := idx.Lookup("00000001_000.png")
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(dir1, "00000001_000.png"), path)

	// 後に走査したディレクトリが優先される
	path, ok = idx.Lookup("00000002_000.png")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir2, "00000002_000.png"), path)

	require.Len(t, idx.Duplicates, 1)
	assert.Equal(t, Duplicate{
		Name:     "00000002_000.png",
		Previous: filepath.Join(dir1, "00000002_000.png"),
		Kept:     filepath.Join(dir2, "00000002_000.png"),
	}, idx.Duplicates[0])

	_, ok = idx.Lookup("missing.png")
	assert.False(t, ok)
}

func TestBuildImageIndexMissingDir(t *testing.T) {
	_, err := BuildImageIndex([]string{filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestNewImageIndexCopiesInput(t *testing.T) {
	src := map[string]string{"a.png": "/images/a.png"}
	idx := NewImageIndex(src)
	src["a.png"] = "/elsewhere/a.png"

	path, ok := idx.Lookup("a.png")
	require.True(t, ok)
	assert.Equal(t, "/images/a.png", path)
}

func TestNilImageIndex(t *testing.T) {
	var idx *ImageIndex
	_, ok := idx.Lookup("a.png")
	assert.False(t, ok)
	assert.Zero(t, idx.Len())
}

func TestSemaphore(t *testing.T) {
	sem := NewSemaphore(1)
	assert.Equal(t, 1, sem.Cap())

	ctx := context.Background()
	require.NoError(t, sem.Acquire(ctx))

	// 取得済みなので期限切れになる
	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(timeout), context.DeadlineExceeded)

	sem.Release()
	require.NoError(t, sem.Acquire(ctx))
	sem.Release()
}

func TestSemaphoreMinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewSemaphore(0).Cap())
	assert.Equal(t, 4, NewSemaphore(4).Cap())
}
