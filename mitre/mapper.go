package mitre

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"guardian/core"

	"go.uber.org/zap"
)

// catalog is the built-in subset of enterprise ATT&CK the mapper can name
// without a bundle.
var catalog = []core.TechniqueRef{
	{ID: "T1110", Name: "Brute Force", Tactics: []string{"Credential Access"}},
	{ID: "T1110.001", Name: "Password Guessing", Tactics: []string{"Credential Access"}},
	{ID: "T1003", Name: "OS Credential Dumping", Tactics: []string{"Credential Access"}},
	{ID: "T1003.001", Name: "LSASS Memory", Tactics: []string{"Credential Access"}},
	{ID: "T1204", Name: "User Execution", Tactics: []string{"Execution"}},
	{ID: "T1071", Name: "Application Layer Protocol", Tactics: []string{"Command and Control"}},
	{ID: "T1059", Name: "Command and Scripting Interpreter", Tactics: []string{"Execution"}},
	{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"Execution"}},
	{ID: "T1190", Name: "Exploit Public-Facing Application", Tactics: []string{"Initial Access"}},
	{ID: "T1021", Name: "Remote Services", Tactics: []string{"Lateral Movement"}},
	{ID: "T1550.002", Name: "Pass the Hash", Tactics: []string{"Defense Evasion", "Lateral Movement"}},
	{ID: "T1068", Name: "Exploitation for Privilege Escalation", Tactics: []string{"Privilege Escalation"}},
	{ID: "T1548.003", Name: "Sudo and Sudo Caching", Tactics: []string{"Privilege Escalation", "Defense Evasion"}},
	{ID: "T1046", Name: "Network Service Discovery", Tactics: []string{"Discovery"}},
	{ID: "T1595", Name: "Active Scanning", Tactics: []string{"Reconnaissance"}},
	{ID: "T1041", Name: "Exfiltration Over C2 Channel", Tactics: []string{"Exfiltration"}},
	{ID: "T1048", Name: "Exfiltration Over Alternative Protocol", Tactics: []string{"Exfiltration"}},
	{ID: "T1486", Name: "Data Encrypted for Impact", Tactics: []string{"Impact"}},
	{ID: "T1490", Name: "Inhibit System Recovery", Tactics: []string{"Impact"}},
	{ID: "T1566", Name: "Phishing", Tactics: []string{"Initial Access"}},
	{ID: "T1498", Name: "Network Denial of Service", Tactics: []string{"Impact"}},
}

// attackTypes maps normalized attack type labels to technique IDs, most
// specific first.
var attackTypes = map[string][]string{
	"brute_force":          {"T1110", "T1110.001"},
	"password_spraying":    {"T1110"},
	"credential_access":    {"T1003", "T1003.001"},
	"credential_dumping":   {"T1003", "T1003.001"},
	"malware":              {"T1204", "T1071"},
	"c2":                   {"T1071"},
	"command_and_control":  {"T1071"},
	"execution":            {"T1059", "T1059.001"},
	"web_attack":           {"T1190"},
	"sql_injection":        {"T1190"},
	"lateral_movement":     {"T1021", "T1550.002"},
	"privilege_escalation": {"T1068", "T1548.003"},
	"reconnaissance":       {"T1046", "T1595"},
	"port_scan":            {"T1046"},
	"exfiltration":         {"T1041", "T1048"},
	"data_exfiltration":    {"T1041", "T1048"},
	"ransomware":           {"T1486", "T1490"},
	"phishing":             {"T1566"},
	"dos":                  {"T1498"},
	"ddos":                 {"T1498"},
}

// Mapper resolves attack types to techniques. It is read-only after
// construction and safe for concurrent use.
type Mapper struct {
	techniques map[string]core.TechniqueRef
}

// NewMapper returns a mapper over the built-in catalog.
func NewMapper() *Mapper {
	m := &Mapper{techniques: make(map[string]core.TechniqueRef, len(catalog))}
	for _, t := range catalog {
		m.techniques[t.ID] = t
	}
	return m
}

// LoadBundle builds a mapper whose technique names and tactics come from an
// enterprise-attack STIX bundle. Techniques the bundle lacks keep their
// built-in names.
func LoadBundle(path string, logger *zap.SugaredLogger) (*Mapper, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ATT&CK bundle: %w", err)
	}

	var bundle struct {
		Type    string            `json:"type"`
		ID      string            `json:"id"`
		Objects []json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal STIX bundle: %w", err)
	}
	if bundle.Type != "bundle" {
		return nil, fmt.Errorf("expected STIX bundle, got type: %s", bundle.Type)
	}

	m := NewMapper()
	loaded, skipped := 0, 0
	for _, raw := range bundle.Objects {
		var ap AttackPattern
		if err := json.Unmarshal(raw, &ap); err != nil {
			skipped++
			continue
		}
		if ap.Type != "attack-pattern" || ap.Revoked || ap.Deprecated {
			continue
		}
		id := ap.GetTechniqueID()
		if id == "" || ap.Name == "" {
			skipped++
			continue
		}
		m.techniques[id] = core.TechniqueRef{ID: id, Name: ap.Name, Tactics: ap.GetTacticNames()}
		loaded++
	}

	logger.Infow("MITRE ATT&CK bundle loaded", "bundle", bundle.ID, "techniques", loaded, "skipped", skipped)
	return m, nil
}

// Technique returns one technique by ID.
func (m *Mapper) Technique(id string) (core.TechniqueRef, bool) {
	t, ok := m.techniques[strings.ToUpper(strings.TrimSpace(id))]
	return t, ok
}

// MapTechniques returns the techniques for an attack type, or nil when the
// type is unknown or "none". Free-text labels from an LLM are normalized and
// matched on their words when there is no exact entry.
func (m *Mapper) MapTechniques(attackType string) []core.TechniqueRef {
	key := normalize(attackType)
	if key == "" || key == "none" || key == "unknown" || key == "benign" {
		return nil
	}

	ids, ok := attackTypes[key]
	if !ok {
		// longest contained label wins so "data_exfiltration" beats "exfiltration"
		best := ""
		for label, candidate := range attackTypes {
			if len(label) > len(best) && strings.Contains(key, label) {
				best, ids = label, candidate
			}
		}
	}

	var out []core.TechniqueRef
	for _, id := range ids {
		if t, ok := m.techniques[id]; ok {
			t.Tactics = append([]string(nil), t.Tactics...)
			out = append(out, t)
		}
	}
	return out
}

func normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(label)
}
