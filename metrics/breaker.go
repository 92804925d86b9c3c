package metrics

import "guardian/core"

// ObserveBreaker is a core.CircuitBreakerConfig.OnStateChange hook that
// mirrors breaker state into CircuitBreakerState.
func ObserveBreaker(name string, _, to core.CircuitBreakerState) {
	v := 0.0
	if to != core.CircuitBreakerStateClosed {
		v = 1
	}
	CircuitBreakerState.WithLabelValues(name).Set(v)
}

// NewBreaker builds a default circuit breaker wired to the metrics hook.
func NewBreaker(name string) *core.CircuitBreaker {
	cfg := core.DefaultCircuitBreakerConfig(name)
	cfg.OnStateChange = ObserveBreaker
	return core.MustNewCircuitBreaker(cfg)
}
