package threat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"guardian/core"
	"guardian/metrics"
)

// Detection thresholds: more engines than this flag the artifact malicious.
const (
	VirusTotalHashThreshold = 5
	VirusTotalURLThreshold  = 3
)

const defaultVirusTotalURL = "https://www.virustotal.com/api/v3"

var errVTNotFound = errors.New("not found in VirusTotal")

// VirusTotalProvider checks file hashes and URLs against VirusTotal v3.
type VirusTotalProvider struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
}

// NewVirusTotalProvider creates a new VirusTotal provider. An empty baseURL
// uses the public API.
func NewVirusTotalProvider(apiKey, baseURL string) *VirusTotalProvider {
	if baseURL == "" {
		baseURL = defaultVirusTotalURL
	}
	return &VirusTotalProvider{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         newHTTPClient(core.HTTPClientTimeout),
		circuitBreaker: metrics.NewBreaker("virustotal"),
	}
}

// Name returns the provider name
func (p *VirusTotalProvider) Name() string {
	return "VirusTotal"
}

// Supports reports hash and URL support.
func (p *VirusTotalProvider) Supports(t core.IndicatorType) bool {
	return t == core.IndicatorHash || t == core.IndicatorURL
}

type vtStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

func (s vtStats) total() int {
	return s.Malicious + s.Suspicious + s.Harmless + s.Undetected + s.Timeout
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats           vtStats  `json:"last_analysis_stats"`
			MeaningfulName              string   `json:"meaningful_name"`
			TypeDescription             string   `json:"type_description"`
			Tags                        []string `json:"tags"`
			PopularThreatClassification struct {
				SuggestedThreatLabel string `json:"suggested_threat_label"`
			} `json:"popular_threat_classification"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup queries /files/{hash} or /urls/{id}.
func (p *VirusTotalProvider) Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error) {
	var endpoint string
	var threshold int
	switch t {
	case core.IndicatorHash:
		endpoint = fmt.Sprintf("%s/files/%s", p.baseURL, url.PathEscape(value))
		threshold = VirusTotalHashThreshold
	case core.IndicatorURL:
		// URL ids are unpadded base64url of the URL itself
		id := base64.RawURLEncoding.EncodeToString([]byte(value))
		endpoint = fmt.Sprintf("%s/urls/%s", p.baseURL, id)
		threshold = VirusTotalURLThreshold
	default:
		return core.InvestigationResult{}, fmt.Errorf("VirusTotal does not support %s indicators", t)
	}

	body, err := p.get(ctx, endpoint)
	result := newResult(p.Name(), t, value)
	if errors.Is(err, errVTNotFound) {
		if t == core.IndicatorURL {
			p.submitURL(ctx, value)
			result.Raw = "URL not found in VirusTotal; submitted for scanning"
			return result, nil
		}
		result.Verdict = core.VerdictBenign
		result.Raw = "hash not found in VirusTotal database"
		return result, nil
	}
	if err != nil {
		return core.InvestigationResult{}, err
	}

	attrs := body.Data.Attributes
	stats := attrs.LastAnalysisStats
	total := stats.total()
	result.DetectionRatio = fmt.Sprintf("%d/%d", stats.Malicious, total)
	if total > 0 {
		result.Confidence = float64(stats.Malicious) / float64(total)
	}
	if stats.Malicious > threshold {
		result.Verdict = core.VerdictMalicious
	} else {
		result.Verdict = core.VerdictBenign
	}

	var parts []string
	if label := attrs.PopularThreatClassification.SuggestedThreatLabel; label != "" {
		parts = append(parts, "threat="+label)
	}
	if attrs.MeaningfulName != "" {
		parts = append(parts, "name="+attrs.MeaningfulName)
	}
	if attrs.TypeDescription != "" {
		parts = append(parts, "type="+attrs.TypeDescription)
	}
	if len(attrs.Tags) > 0 {
		parts = append(parts, "tags="+strings.Join(attrs.Tags, ","))
	}
	result.Raw = strings.Join(append([]string{"detections " + result.DetectionRatio}, parts...), " ")
	return result, nil
}

func (p *VirusTotalProvider) get(ctx context.Context, endpoint string) (*vtResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-apikey", p.apiKey)

	var body vtResponse
	var notFound bool
	err = p.circuitBreaker.Execute(func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query VirusTotal: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			notFound = true
			return nil
		case http.StatusTooManyRequests:
			return fmt.Errorf("VirusTotal rate limited")
		default:
			return fmt.Errorf("VirusTotal returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, errVTNotFound
	}
	return &body, nil
}

// submitURL queues an unseen URL for analysis; failures are ignored.
func (p *VirusTotalProvider) submitURL(ctx context.Context, value string) {
	form := url.Values{"url": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("x-apikey", p.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
