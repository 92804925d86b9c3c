package bootstrap

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnsureDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	abs, err := EnsureDataDirectory(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(filepath.Join(abs, ".guardian_write_test"))
	assert.True(t, os.IsNotExist(err), "probe file is removed")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil", nil, ""},
		{"timeout", timeoutErr{}, "timed out"},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "Connection refused by Redis"},
		{"dns", errors.New("dial tcp: lookup redis.internal: no such host"), "Cannot resolve hostname"},
		{"auth", errors.New("WRONGPASS invalid username-password pair or user is disabled"), "Authentication failed"},
		{"other", errors.New("boom"), "Failed to connect to Redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ClassifyConnectionError("Redis", tt.err, "localhost:6379")
			if tt.contains == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{nil, ""},
		{errors.New("unable to open database file: permission denied"), "Permission denied"},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), "locked by another process"},
		{errors.New("database disk image is malformed"), "corrupted"},
		{errors.New("open /nope/guardian.db: no such file or directory"), "path does not exist"},
		{errors.New("attempt to write a read-only database"), "read-only"},
		{errors.New("something else"), "Failed to initialize SQLite"},
	}
	for _, tt := range tests {
		msg := ClassifySQLiteError(tt.err, "/data/guardian.db")
		if tt.contains == "" {
			assert.Empty(t, msg)
			continue
		}
		assert.Contains(t, msg, tt.contains)
	}
}

func TestInitLogger(t *testing.T) {
	_, sugar, err := InitLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, sugar)

	_, _, err = InitLogger("loud")
	assert.Error(t, err)
}
