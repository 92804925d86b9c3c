package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"guardian/core"
	"guardian/metrics"
)

// AbuseIPDBMaliciousScore is the abuse confidence above which an IP is malicious.
const AbuseIPDBMaliciousScore = 25

const defaultAbuseIPDBURL = "https://api.abuseipdb.com/api/v2"

// AbuseIPDBProvider checks IP reputation against AbuseIPDB.
type AbuseIPDBProvider struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
}

// NewAbuseIPDBProvider creates a new AbuseIPDB provider. An empty baseURL
// uses the public API.
func NewAbuseIPDBProvider(apiKey, baseURL string) *AbuseIPDBProvider {
	if baseURL == "" {
		baseURL = defaultAbuseIPDBURL
	}
	return &AbuseIPDBProvider{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         newHTTPClient(core.HTTPClientTimeout),
		circuitBreaker: metrics.NewBreaker("abuseipdb"),
	}
}

// Name returns the provider name
func (p *AbuseIPDBProvider) Name() string {
	return "AbuseIPDB"
}

// Supports reports IP support only.
func (p *AbuseIPDBProvider) Supports(t core.IndicatorType) bool {
	return t == core.IndicatorIP
}

// Lookup queries /check for one IP.
func (p *AbuseIPDBProvider) Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error) {
	if t != core.IndicatorIP {
		return core.InvestigationResult{}, fmt.Errorf("AbuseIPDB does not support %s indicators", t)
	}

	endpoint := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=90&verbose", p.baseURL, url.QueryEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.InvestigationResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	var body struct {
		Data struct {
			AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
			CountryCode          string `json:"countryCode"`
			UsageType            string `json:"usageType"`
			ISP                  string `json:"isp"`
			IsWhitelisted        bool   `json:"isWhitelisted"`
			TotalReports         int    `json:"totalReports"`
			LastReportedAt       string `json:"lastReportedAt"`
		} `json:"data"`
	}

	err = p.circuitBreaker.Execute(func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query AbuseIPDB: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("AbuseIPDB rate limited")
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("AbuseIPDB returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.InvestigationResult{}, err
	}

	data := body.Data
	result := newResult(p.Name(), t, value)
	result.Confidence = float64(data.AbuseConfidenceScore) / 100.0
	switch {
	case data.IsWhitelisted:
		result.Verdict = core.VerdictBenign
	case data.AbuseConfidenceScore > AbuseIPDBMaliciousScore:
		result.Verdict = core.VerdictMalicious
	default:
		result.Verdict = core.VerdictBenign
	}
	result.Raw = fmt.Sprintf("abuse score %d%%, %d reports, isp=%q country=%s usage=%q",
		data.AbuseConfidenceScore, data.TotalReports, data.ISP, data.CountryCode, data.UsageType)
	return result, nil
}
