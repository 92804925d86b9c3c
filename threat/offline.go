package threat

import (
	"context"
	"fmt"
	"strings"

	"guardian/core"
)

type knownBadIP struct {
	score int
	note  string
}

type knownBadHash struct {
	name      string
	malicious int
	total     int
}

// Built-in reputation data used when no provider key is configured.
var (
	offlineIPs = map[string]knownBadIP{
		"185.220.101.47": {98, "Tor exit node"},
		"194.165.16.11":  {87, "brute force source"},
		"45.142.212.100": {76, "scanner"},
		"103.21.244.0":   {65, "abusive hosting range"},
	}
	offlineHashes = map[string]knownBadHash{
		"44d88612fea8a8f36de82e1278abb02f": {"Mirai.Botnet", 58, 72},
		"3395856ce81f2b7382dee72602f798b6": {"Emotet.Dropper", 61, 72},
		"abc123def456abc123def456abc123de": {"Cobalt.Strike.Beacon", 55, 72},
		"e3b0c44298fc1c149afbf4c8996fb924": {"Clean", 0, 72},
	}
	offlineURLMarkers = []string{"payload", "malware"}
)

// OfflineProvider answers from a static known-bad table. It never fails.
type OfflineProvider struct{}

// NewOfflineProvider creates the offline reputation provider
func NewOfflineProvider() *OfflineProvider {
	return &OfflineProvider{}
}

// Name returns the provider name
func (p *OfflineProvider) Name() string {
	return "offline"
}

// Supports reports support for every routable type.
func (p *OfflineProvider) Supports(t core.IndicatorType) bool {
	return t == core.IndicatorIP || t == core.IndicatorHash || t == core.IndicatorURL
}

// Lookup consults the table.
func (p *OfflineProvider) Lookup(ctx context.Context, t core.IndicatorType, value string) (core.InvestigationResult, error) {
	if err := ctx.Err(); err != nil {
		return core.InvestigationResult{}, err
	}
	result := newResult(p.Name(), t, value)
	result.Verdict = core.VerdictBenign
	result.Confidence = 0.1

	switch t {
	case core.IndicatorIP:
		if bad, ok := offlineIPs[value]; ok {
			result.Confidence = float64(bad.score) / 100.0
			if bad.score > AbuseIPDBMaliciousScore {
				result.Verdict = core.VerdictMalicious
			}
			result.Raw = fmt.Sprintf("abuse score %d%% (%s)", bad.score, bad.note)
			return result, nil
		}
		result.Raw = "not present in offline reputation table"
	case core.IndicatorHash:
		if bad, ok := offlineHashes[strings.ToLower(value)]; ok {
			result.DetectionRatio = fmt.Sprintf("%d/%d", bad.malicious, bad.total)
			result.Confidence = float64(bad.malicious) / float64(bad.total)
			if bad.malicious > VirusTotalHashThreshold {
				result.Verdict = core.VerdictMalicious
			}
			result.Raw = fmt.Sprintf("detections %s threat=%s", result.DetectionRatio, bad.name)
			return result, nil
		}
		result.Raw = "not present in offline reputation table"
	case core.IndicatorURL:
		lower := strings.ToLower(value)
		for _, marker := range offlineURLMarkers {
			if strings.Contains(lower, marker) {
				result.Verdict = core.VerdictMalicious
				result.Confidence = 0.6
				result.DetectionRatio = "4/90"
				result.Raw = fmt.Sprintf("URL matches suspicious marker %q", marker)
				return result, nil
			}
		}
		result.Raw = "not present in offline reputation table"
	default:
		return core.InvestigationResult{}, fmt.Errorf("unsupported indicator type %s", t)
	}
	return result, nil
}
