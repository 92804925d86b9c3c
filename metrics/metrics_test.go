package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"guardian/core"
)

func TestCollectorsRegistered(t *testing.T) {
	assert.NotNil(t, IncidentsSubmitted)
	assert.NotNil(t, StageTransitions)
	assert.NotNil(t, ActionsExecuted)
	assert.NotNil(t, EventsDropped)
}

func TestObserveBreaker(t *testing.T) {
	ObserveBreaker("virustotal", core.CircuitBreakerStateClosed, core.CircuitBreakerStateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("virustotal")))

	ObserveBreaker("virustotal", core.CircuitBreakerStateHalfOpen, core.CircuitBreakerStateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("virustotal")))
}

func TestNewBreaker_ReportsState(t *testing.T) {
	cb := NewBreaker("metrics-test")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, core.CircuitBreakerStateOpen, cb.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("metrics-test")))
}
