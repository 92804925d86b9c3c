package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIndicator(t *testing.T) {
	tests := map[string]IndicatorType{
		"185.220.101.47":                    IndicatorIP,
		"2001:db8::1":                       IndicatorIP,
		"44d88612fea8a8f36de82e1278abb02f":  IndicatorHash,
		"da39a3ee5e6b4b0d3255bfef95601890afd80709": IndicatorHash,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855": IndicatorHash,
		"http://evil.example.com/payload.sh": IndicatorURL,
		"evil.example.com/drop":              IndicatorURL,
		"evil.example.com":                   IndicatorUnknown,
		"10.0.0.1/24":                        IndicatorUnknown,
		"admin":                              IndicatorUnknown,
		"999.1.1.1":                          IndicatorUnknown,
		"":                                   IndicatorUnknown,
	}
	for value, want := range tests {
		assert.Equal(t, want, ClassifyIndicator(value), value)
	}
}

func TestNormalizeIndicator(t *testing.T) {
	assert.Equal(t, "44d88612fea8a8f36de82e1278abb02f", NormalizeIndicator(" 44D88612FEA8A8F36DE82E1278ABB02F "))
	assert.Equal(t, "185.220.101.47", NormalizeIndicator("185.220.101.47,"))
	assert.Equal(t, "http://evil.example.com/X", NormalizeIndicator("HTTP://EVIL.example.com/X"))
}

func TestDedupeIndicators_KeepsFirstAppearance(t *testing.T) {
	got := DedupeIndicators([]string{
		"185.220.101.47",
		"44D88612FEA8A8F36DE82E1278ABB02F",
		"185.220.101.47",
		"jdoe",
		"44d88612fea8a8f36de82e1278abb02f",
		"45.142.212.100",
	})
	assert.Equal(t, []string{
		"185.220.101.47",
		"44d88612fea8a8f36de82e1278abb02f",
		"45.142.212.100",
	}, got)
}

func TestEnforcementKind_NormalizeTarget(t *testing.T) {
	tests := []struct {
		kind   EnforcementKind
		target string
		want   string
	}{
		{EnforcementHash, " 44D88612FEA8A8F36DE82E1278ABB02F ", "44d88612fea8a8f36de82e1278abb02f"},
		{EnforcementHost, "WS-FINANCE-07", "ws-finance-07"},
		{EnforcementIP, "2001:DB8::0001", "2001:db8::1"},
		{EnforcementIP, "185.220.101.47", "185.220.101.47"},
		{EnforcementAccount, " JSmith ", "JSmith"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.NormalizeTarget(tt.target), "%s %q", tt.kind, tt.target)
	}
}
