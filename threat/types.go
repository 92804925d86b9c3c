package threat

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"guardian/core"
)

// Provider answers reputation queries for the indicator types it supports.
// A returned error means the lookup itself failed; the investigator turns it
// into an unknown verdict.
type Provider interface {
	Name() string
	Supports(t core.IndicatorType) bool
	Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = core.HTTPClientTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

func newResult(source string, t core.IndicatorType, value string) core.InvestigationResult {
	return core.InvestigationResult{
		Indicator: value,
		Type:      t,
		Verdict:   core.VerdictUnknown,
		Source:    source,
		QueriedAt: time.Now().UTC(),
	}
}

func unknownResult(source string, t core.IndicatorType, value string, err error) core.InvestigationResult {
	r := newResult(source, t, value)
	if err != nil {
		r.Raw = err.Error()
	}
	return r
}
