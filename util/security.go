package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotRegularFile is returned for directories, devices and sockets.
var ErrNotRegularFile = errors.New("not a regular file")

// ErrFileTooLarge is returned when a file exceeds the caller's limit.
var ErrFileTooLarge = errors.New("file too large")

// ReadLogFile reads a log file for analysis. It rejects anything that is not
// a regular file and anything larger than maxBytes.
func ReadLogFile(path string, maxBytes int64) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("null bytes not allowed in path")
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return "", fmt.Errorf("%s is %d bytes, limit %d: %w", path, info.Size(), maxBytes, ErrFileTooLarge)
	}

	reader := io.Reader(f)
	if maxBytes > 0 {
		// the file may grow between Stat and Read
		reader = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%s grew past %d bytes: %w", path, maxBytes, ErrFileTooLarge)
	}
	return string(data), nil
}
