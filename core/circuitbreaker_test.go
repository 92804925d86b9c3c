package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                "test",
		MaxFailures:         3,
		Timeout:             50 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())

	for i := 0; i < 2; i++ {
		_, state := cb.RecordFailure()
		assert.Equal(t, CircuitBreakerStateClosed, state)
	}
	old, state := cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateClosed, old)
	assert.Equal(t, CircuitBreakerStateOpen, state)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		Name:                "probe",
		MaxFailures:         1,
		Timeout:             10 * time.Millisecond,
		MaxHalfOpenRequests: 1,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow(), "first call after timeout is the probe")
	assert.Equal(t, CircuitBreakerStateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyRequests)

	cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.Equal(t, []CircuitBreakerState{
		CircuitBreakerStateOpen, CircuitBreakerStateHalfOpen, CircuitBreakerStateClosed,
	}, transitions)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{Name: "exec", MaxFailures: 1, Timeout: time.Minute, MaxHalfOpenRequests: 1})

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Zero(t, calls)

	cb.Reset()
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	_, err := NewCircuitBreaker(CircuitBreakerConfig{Timeout: time.Second, MaxHalfOpenRequests: 1})
	assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)

	cfg := DefaultCircuitBreakerConfig("default")
	assert.NoError(t, cfg.Validate())
}
