package threat

import (
	"context"
	"fmt"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for the investigator fan-out.
const (
	DefaultMaxInFlight   = 4
	DefaultLookupTimeout = 15 * time.Second
)

// ResultFunc receives each result as soon as its lookup finishes. It may be
// called from several goroutines at once.
type ResultFunc func(index int, result core.InvestigationResult)

// Investigator routes indicators to reputation providers and collects one
// result per indicator. Lookups never fail the caller: provider errors become
// unknown verdicts.
type Investigator struct {
	providers     []Provider
	maxInFlight   int
	lookupTimeout time.Duration
	logger        *zap.SugaredLogger
}

// NewInvestigator creates an investigator. Providers are consulted in order
// and the first one that supports an indicator type answers for it.
func NewInvestigator(providers []Provider, maxInFlight int, lookupTimeout time.Duration, logger *zap.SugaredLogger) *Investigator {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Investigator{
		providers:     providers,
		maxInFlight:   maxInFlight,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// Providers returns the configured provider names in routing order.
func (inv *Investigator) Providers() []string {
	names := make([]string, 0, len(inv.providers))
	for _, p := range inv.providers {
		names = append(names, p.Name())
	}
	return names
}

func (inv *Investigator) route(t core.IndicatorType) Provider {
	for _, p := range inv.providers {
		if p.Supports(t) {
			return p
		}
	}
	return nil
}

// Investigate looks up every distinct routable indicator. The returned slice
// follows the order of the deduplicated input regardless of completion order.
func (inv *Investigator) Investigate(ctx context.Context, indicators []string, onResult ResultFunc) []core.InvestigationResult {
	values := core.DedupeIndicators(indicators)
	results := make([]core.InvestigationResult, len(values))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.maxInFlight)
	for i, value := range values {
		g.Go(func() error {
			results[i] = inv.lookup(gctx, value)
			if onResult != nil {
				onResult(i, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// lookup runs one provider call and converts any failure, including a panic,
// into an unknown verdict.
func (inv *Investigator) lookup(ctx context.Context, value string) (result core.InvestigationResult) {
	t := core.ClassifyIndicator(value)
	provider := inv.route(t)
	if provider == nil {
		metrics.IntelLookups.WithLabelValues("none", string(core.VerdictUnknown)).Inc()
		return unknownResult("none", t, value, fmt.Errorf("no provider configured for %s indicators", t))
	}

	name := provider.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			inv.logger.Errorw("Reputation provider panicked",
				"provider", name,
				"indicator", value,
				"panic", r)
			result = unknownResult(name, t, value, fmt.Errorf("provider panic: %v", r))
		}
		metrics.IntelLookupDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.IntelLookups.WithLabelValues(name, string(result.Verdict)).Inc()
	}()

	lookupCtx, cancel := context.WithTimeout(ctx, inv.lookupTimeout)
	defer cancel()

	res, err := provider.Lookup(lookupCtx, t, value)
	if err != nil {
		inv.logger.Warnw("Reputation lookup failed",
			"provider", name,
			"indicator", value,
			"type", t,
			"error", err)
		return unknownResult(name, t, value, err)
	}

	// providers must not rewrite identity fields
	res.Indicator = value
	res.Type = t
	if res.Source == "" {
		res.Source = name
	}
	if res.Verdict == "" {
		res.Verdict = core.VerdictUnknown
	}
	if res.QueriedAt.IsZero() {
		res.QueriedAt = time.Now().UTC()
	}
	return res
}
