package instance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "com.tyunta.notifyxsoverlay"

func TestSecondAcquireReportsAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, testKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release() })

	_, err = Acquire(dir, testKey)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, testKey)
	require.NoError(t, err)
	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := Acquire(dir, testKey)
	require.NoError(t, err)
	assert.FileExists(t, second.Path())
	require.NoError(t, second.Release())
	assert.FileExists(t, second.Path())
}

func TestUnusableDirectory(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Acquire(filepath.Join(blocker, "sub"), testKey)
	assert.ErrorIs(t, err, ErrLockUnusable)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "com.tyunta.notifyxsoverlay.lock", FileName(testKey))
	assert.Equal(t, "a_b_c.lock", FileName("a/b:c"))
}
