// Package goroutine holds panic-safety helpers for background goroutines.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr so the panic is still recorded.
// Must be called directly via defer.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, logger, r)
	}
}

// RecoverWith behaves like Recover and then hands the panic value to onPanic.
// Must be called directly via defer.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(v interface{})) {
	if r := recover(); r != nil {
		logPanic(name, logger, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

// Go starts fn in a goroutine guarded by Recover.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

func logPanic(name string, logger *zap.SugaredLogger, r interface{}) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}
