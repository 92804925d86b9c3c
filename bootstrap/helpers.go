package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDataDirectory creates dir and checks that it is writable. It runs
// before any store is opened.
func EnsureDataDirectory(dir string, sugar *zap.SugaredLogger) (string, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions", dir, err)
	}

	testFile := filepath.Join(absPath, ".guardian_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return "", fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Run 'chmod -R u+w %s' or set GUARDIAN_DATA_DIR", dir, err, absPath)
	}
	_ = os.Remove(testFile)

	sugar.Infow("Data directory ready", "path", absPath)
	return absPath, nil
}

// ClassifyConnectionError turns a dial failure against a network service
// (ClickHouse, MongoDB, Redis) into an operator-facing message.
func ClassifyConnectionError(service string, err error, addr string) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - A firewall is blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" &&
		(errors.Is(opErr.Err, syscall.ECONNREFUSED) || containsIgnoreCase(opErr.Err.Error(), "connection refused")) {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start it: docker compose up -d %s\n"+
			"  - Verify the address in config.yaml", service, addr, service, strings.ToLower(service))
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname and DNS configuration\n"+
			"  - Try an IP address instead", service, addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "password") || containsIgnoreCase(errStr, "denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the credentials in config.yaml or the GUARDIAN_ env vars\n"+
			"  - Check the secrets backend if one is configured", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and reachable", service, addr, err, service)
}

// ClassifySQLiteError turns a SQLite open failure into an operator-facing message.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case containsIgnoreCase(errStr, "permission denied"):
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - For Docker: Ensure the volume is mounted with the right user", absPath, parentDir)
	case containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY"):
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another guardian instance: ps aux | grep guardian\n"+
			"  - Use the mongo backend to run several instances", absPath)
	case containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL"):
		return fmt.Sprintf("Disk full, cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)
	case containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed"):
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Restore from backup", absPath, absPath)
	case containsIgnoreCase(errStr, "no such file or directory"):
		return fmt.Sprintf("Cannot create SQLite database, path does not exist: %s.\n"+
			"  Remediation:\n"+
			"  - Create the parent directory: mkdir -p %s", absPath, parentDir)
	case containsIgnoreCase(errStr, "read-only"):
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database with GUARDIAN_STORAGE_SQLITE_PATH", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s exists and is writable", absPath, err, parentDir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
