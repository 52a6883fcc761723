package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidfile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ccrouter.pid")
	pf := New(path)

	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPidfile_RemoveMissingFileIsNotError(t *testing.T) {
	pf := New(filepath.Join(t.TempDir(), "absent.pid"))
	assert.NoError(t, pf.Remove())
}

func TestPidfile_ReadMissingFileErrors(t *testing.T) {
	pf := New(filepath.Join(t.TempDir(), "absent.pid"))
	_, err := pf.Read()
	assert.Error(t, err)
}
