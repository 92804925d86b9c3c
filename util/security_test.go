package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	content := "Failed password for root from 185.220.101.45 port 22 ssh2\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o600))

	got, err := ReadLogFile(logPath, 1024)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = ReadLogFile(logPath, 10)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = ReadLogFile(dir, 1024)
	assert.ErrorIs(t, err, ErrNotRegularFile)

	_, err = ReadLogFile(filepath.Join(dir, "missing.log"), 1024)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
