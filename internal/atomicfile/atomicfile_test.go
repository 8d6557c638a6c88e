package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tigerflow/internal/atomicfile"
)

func TestWriteCreatesDestinationAtomically(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")

	err := atomicfile.Write(dest, func(tmp *os.File) error {
		_, werr := tmp.WriteString("hello")
		return werr
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file should remain")
}

func TestWriteRemovesTempOnError(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")

	err := atomicfile.Write(dest, func(_ *os.File) error {
		return assert.AnError
	})
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should have been cleaned up")
}

func TestWriteBytes(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.bin")

	require.NoError(t, atomicfile.WriteBytes(dest, []byte("payload")))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestRemoveResidue(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-orphan-abc123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.out"), []byte("y"), 0o644))

	n, err := atomicfile.RemoveResidue(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept.out", entries[0].Name())
}

func TestStageProducesExtensionlessTempName(t *testing.T) {
	dir := t.TempDir()
	staged, err := atomicfile.Stage(filepath.Join(dir, "stem.out"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = staged.Abort() })

	assert.Equal(t, "", filepath.Ext(staged.TmpPath), "staged temp name must carry no extension")
}

func TestRemoveResidueSweepsAnAbandonedStage(t *testing.T) {
	dir := t.TempDir()
	staged, err := atomicfile.Stage(filepath.Join(dir, "stem.out"))
	require.NoError(t, err)
	// Simulate a crash between Stage and Commit/Abort: the temp file is
	// left behind with no further bookkeeping.

	n, err := atomicfile.RemoveResidue(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, statErr := os.Stat(staged.TmpPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveResidueMissingDir(t *testing.T) {
	n, err := atomicfile.RemoveResidue(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
