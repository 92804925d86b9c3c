package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"guardian/core"
	"guardian/metrics"
)

// OTXMinPulses is the pulse count at which OTX marks an indicator malicious.
const OTXMinPulses = 1

const defaultOTXURL = "https://otx.alienvault.com/api/v1"

// OTXProvider checks IPs, hashes and URLs against AlienVault OTX pulses.
// It is routed after the dedicated providers and answers for the types they
// leave uncovered.
type OTXProvider struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
}

// NewOTXProvider creates an OTX provider. An empty baseURL uses the public API.
func NewOTXProvider(apiKey, baseURL string) *OTXProvider {
	if baseURL == "" {
		baseURL = defaultOTXURL
	}
	return &OTXProvider{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         newHTTPClient(core.HTTPClientTimeout),
		circuitBreaker: metrics.NewBreaker("otx"),
	}
}

// Name returns the provider name
func (p *OTXProvider) Name() string {
	return "AlienVault OTX"
}

// Supports reports IP, hash and URL support.
func (p *OTXProvider) Supports(t core.IndicatorType) bool {
	switch t {
	case core.IndicatorIP, core.IndicatorHash, core.IndicatorURL:
		return true
	}
	return false
}

func otxSection(t core.IndicatorType) (string, bool) {
	switch t {
	case core.IndicatorIP:
		return "IPv4", true
	case core.IndicatorHash:
		return "file", true
	case core.IndicatorURL:
		return "url", true
	}
	return "", false
}

// Lookup reads the indicator's general section.
func (p *OTXProvider) Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error) {
	section, ok := otxSection(t)
	if !ok {
		return core.InvestigationResult{}, fmt.Errorf("OTX does not support %s indicators", t)
	}

	endpoint := fmt.Sprintf("%s/indicators/%s/%s/general", p.baseURL, section, url.PathEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.InvestigationResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", p.apiKey)

	var body struct {
		PulseInfo struct {
			Count  int `json:"count"`
			Pulses []struct {
				Name string   `json:"name"`
				Tags []string `json:"tags"`
			} `json:"pulses"`
		} `json:"pulse_info"`
		Reputation int `json:"reputation"`
	}
	notFound := false

	err = p.circuitBreaker.Execute(func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query OTX: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			notFound = true
			return nil
		default:
			return fmt.Errorf("OTX returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.InvestigationResult{}, err
	}

	result := newResult(p.Name(), t, value)
	if notFound {
		result.Raw = "not found in OTX"
		return result, nil
	}

	pulses := body.PulseInfo.Count
	result.DetectionRatio = fmt.Sprintf("%d pulses", pulses)
	if pulses >= OTXMinPulses || body.Reputation < 0 {
		result.Verdict = core.VerdictMalicious
		result.Confidence = float64(pulses) / 10.0
		if result.Confidence > 0.95 {
			result.Confidence = 0.95
		}
	} else {
		result.Verdict = core.VerdictBenign
	}

	tagSet := make(map[string]struct{})
	for _, pulse := range body.PulseInfo.Pulses {
		for _, tag := range pulse.Tags {
			tagSet[strings.ToLower(tag)] = struct{}{}
		}
	}
	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	result.Raw = fmt.Sprintf("%d pulses, reputation %d", pulses, body.Reputation)
	if len(tags) > 0 {
		result.Raw += ", tags: " + strings.Join(tags, ",")
	}
	return result, nil
}
