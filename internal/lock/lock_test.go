package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s", "LOCK")
	l, err := Acquire(path, "main")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "owner=main")
	assert.Equal(t, os.Getpid(), parsePID(string(data)))

	require.NoError(t, l.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDoubleAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")
	l, err := Acquire(path, "main")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, err = Acquire(path, "main")
	require.Error(t, err)
	assert.True(t, IsHeld(err))
	var he *HeldError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, os.Getpid(), he.PID)
}

func TestHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")
	_, held := Holder(path)
	assert.False(t, held, "missing file")

	l, err := Acquire(path, "main")
	require.NoError(t, err)
	pid, held := Holder(path)
	assert.True(t, held)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, l.Release())
	_, held = Holder(path)
	assert.False(t, held)
}

func TestReleaseNilAndTwice(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())

	l, err := Acquire(filepath.Join(t.TempDir(), "LOCK"), "x")
	require.NoError(t, err)
	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())
}
