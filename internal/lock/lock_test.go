package lock_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tigerflow/internal/lock"
)

func TestReadPIDMissingFile(t *testing.T) {
	_, ok := lock.ReadPID(filepath.Join(t.TempDir(), "run.pid"))
	assert.False(t, ok)
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")

	acquired, err := lock.Acquire(path)
	require.NoError(t, err)
	assert.True(t, acquired)

	pid, ok := lock.ReadPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	assert.True(t, lock.IsRunning(pid))

	require.NoError(t, lock.Release(path))
	_, ok = lock.ReadPID(path)
	assert.False(t, ok)
}

func TestAcquireRefusesWhenAlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")

	first, err := lock.Acquire(path)
	require.NoError(t, err)
	require.True(t, first)

	second, err := lock.Acquire(path)
	require.NoError(t, err)
	assert.False(t, second, "a live holder must refuse a second acquire")
}

func TestAcquireCleansUpStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")

	// A PID essentially guaranteed not to be alive.
	require.NoError(t, os.WriteFile(path, []byte("2147483000"), 0o644))

	acquired, err := lock.Acquire(path)
	require.NoError(t, err)
	assert.True(t, acquired, "a stale pid file must not block a new acquire")

	pid, ok := lock.ReadPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsRunningRejectsNonPositivePID(t *testing.T) {
	assert.False(t, lock.IsRunning(0))
	assert.False(t, lock.IsRunning(-1))
}
