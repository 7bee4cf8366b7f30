package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	tempDir, exportDir := t.TempDir(), t.TempDir()

	oldFile := filepath.Join(tempDir, "work", "old.wav")
	freshFile := filepath.Join(exportDir, "fresh.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldFile), 0755))
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(freshFile, []byte("y"), 0644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	s := NewScheduler([]string{tempDir, exportDir}, 30, 24)
	assert.Equal(t, 1, s.Sweep())

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(oldFile))
	assert.True(t, os.IsNotExist(err), "emptied subdirectory is removed")
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)

	_, err = os.Stat(tempDir)
	assert.NoError(t, err, "root directory is kept")
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler([]string{t.TempDir()}, 1, 1)
	s.Start()
	s.Stop()
	s.Stop()
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	a, b := filepath.Join(base, "a"), filepath.Join(base, "b", "c")
	require.NoError(t, EnsureDirs(a, b))
	assert.DirExists(t, a)
	assert.DirExists(t, b)
}
