package soar

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"guardian/core"

	"go.uber.org/zap"
)

// ErrorType is the retry category of an enforcement call failure.
type ErrorType string

const (
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeTemporary ErrorType = "temporary"
	ErrorTypePermanent ErrorType = "permanent"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// RetryConfig controls ExecuteWithRetry.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first call (0 = no retries)
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// ErrorTypeDelays overrides the backoff sequence per error type
	ErrorTypeDelays map[ErrorType][]time.Duration

	// Jitter between 0.0 and 1.0
	Jitter float64

	Logger  *zap.SugaredLogger
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig keeps the total retry budget of one action well under
// the time an operator waits for an incident to finish.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
		ErrorTypeDelays: map[ErrorType][]time.Duration{
			ErrorTypeTimeout:   {1 * time.Second, 2 * time.Second},
			ErrorTypeRateLimit: {5 * time.Second, 10 * time.Second},
			ErrorTypeNetwork:   {1 * time.Second, 2 * time.Second},
			ErrorTypeTemporary: {500 * time.Millisecond, 1 * time.Second},
		},
	}
}

// ClassifyError maps an error to its retry category.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, core.ErrCircuitBreakerOpen) ||
		errors.Is(err, core.ErrTooManyRequests) {
		return ErrorTypePermanent
	}

	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode(); {
		case code == http.StatusTooManyRequests:
			return ErrorTypeRateLimit
		case code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout, code == http.StatusRequestTimeout:
			return ErrorTypeTimeout
		case code >= 500:
			return ErrorTypeTemporary
		case code >= 400:
			return ErrorTypePermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "no such host"):
		return ErrorTypeNetwork
	case strings.Contains(msg, "ssrf:"):
		return ErrorTypePermanent
	}
	return ErrorTypeUnknown
}

// ShouldRetry reports whether err is worth another attempt.
func ShouldRetry(err error) bool {
	return ClassifyError(err) != ErrorTypePermanent
}

// ExecuteWithRetry calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx ends. fn must be idempotent.
func ExecuteWithRetry(ctx context.Context, fn func() error, config RetryConfig) error {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before attempt %d: %w", attempt+1, err)
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				config.Logger.Infow("Operation succeeded after retry", "retries", attempt)
			}
			return nil
		}

		errorType := ClassifyError(err)
		if errorType == ErrorTypePermanent {
			return err
		}
		if attempt >= config.MaxAttempts {
			config.Logger.Warnw("Retry attempts exhausted",
				"attempts", attempt+1,
				"error_type", errorType,
				"error", err)
			return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxAttempts, err)
		}

		delay := calculateDelay(attempt, errorType, config)
		config.Logger.Debugw("Retry scheduled",
			"attempt", attempt+1,
			"error_type", errorType,
			"delay", delay,
			"error", err)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cancelled during retry delay: %w", ctx.Err())
		}
	}
}

func calculateDelay(attempt int, errorType ErrorType, config RetryConfig) time.Duration {
	var delay time.Duration
	if delays, ok := config.ErrorTypeDelays[errorType]; ok && attempt < len(delays) {
		delay = delays[attempt]
	} else {
		delay = config.BaseDelay * time.Duration(1<<uint(attempt))
	}
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.Jitter > 0 {
		delta := (rand.Float64()*2 - 1) * float64(delay) * config.Jitter
		delay += time.Duration(delta)
		if delay < 0 {
			delay = config.BaseDelay
		}
	}
	return delay
}

// HTTPStatusError carries a non-2xx response status for classification.
type HTTPStatusError struct {
	Code    int
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status
func (e *HTTPStatusError) StatusCode() int {
	return e.Code
}
