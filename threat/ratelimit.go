package threat

import (
	"context"
	"fmt"

	"guardian/core"

	"golang.org/x/time/rate"
)

// RateLimitedProvider holds each lookup until the provider's quota allows it.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with a requests-per-minute limiter. A non-positive
// rate returns p unchanged.
func WithRateLimit(p Provider, requestsPerMinute float64) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &RateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1),
	}
}

// Lookup waits for a token, then delegates.
func (r *RateLimitedProvider) Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return core.InvestigationResult{}, fmt.Errorf("%s rate limit wait: %w", r.Name(), err)
	}
	return r.Provider.Lookup(ctx, t, value)
}
