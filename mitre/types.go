// Package mitre maps incident attack types onto MITRE ATT&CK techniques.
// A built-in catalog covers every attack type the reasoners emit; an
// enterprise-attack STIX bundle can be loaded to refresh names and tactics.
package mitre

import "strings"

// ExternalReference represents a reference to an external source
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// KillChainPhase represents a phase in the MITRE ATT&CK kill chain
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"` // the tactic short name
}

// AttackPattern is the STIX object for a technique or sub-technique. Only
// the fields the mapper reads are decoded.
type AttackPattern struct {
	Type                 string              `json:"type"`
	ID                   string              `json:"id"`
	Name                 string              `json:"name"`
	ExternalReferences   []ExternalReference `json:"external_references"`
	KillChainPhases      []KillChainPhase    `json:"kill_chain_phases"`
	Revoked              bool                `json:"revoked,omitempty"`
	Deprecated           bool                `json:"x_mitre_deprecated,omitempty"`
	XMitreIsSubTechnique bool                `json:"x_mitre_is_subtechnique,omitempty"`
}

// GetTechniqueID returns the ATT&CK ID, e.g. T1110.001
func (ap *AttackPattern) GetTechniqueID() string {
	for _, ref := range ap.ExternalReferences {
		if ref.SourceName == "mitre-attack" && ref.ExternalID != "" {
			return ref.ExternalID
		}
	}
	return ""
}

// GetTacticNames extracts all tactic names from kill chain phases
func (ap *AttackPattern) GetTacticNames() []string {
	tactics := make([]string, 0, len(ap.KillChainPhases))
	for _, kc := range ap.KillChainPhases {
		if kc.KillChainName == "mitre-attack" {
			tactics = append(tactics, GetTacticName(kc.PhaseName))
		}
	}
	return tactics
}

// IsSubTechnique checks if this is a sub-technique (e.g., T1110.001)
func (ap *AttackPattern) IsSubTechnique() bool {
	return ap.XMitreIsSubTechnique || strings.Contains(ap.GetTechniqueID(), ".")
}

var tacticNames = map[string]string{
	"reconnaissance":       "Reconnaissance",
	"resource-development": "Resource Development",
	"initial-access":       "Initial Access",
	"execution":            "Execution",
	"persistence":          "Persistence",
	"privilege-escalation": "Privilege Escalation",
	"defense-evasion":      "Defense Evasion",
	"credential-access":    "Credential Access",
	"discovery":            "Discovery",
	"lateral-movement":     "Lateral Movement",
	"collection":           "Collection",
	"command-and-control":  "Command and Control",
	"exfiltration":         "Exfiltration",
	"impact":               "Impact",
}

// GetTacticName returns a human-readable name from a short name
func GetTacticName(shortName string) string {
	if name, ok := tacticNames[strings.ToLower(shortName)]; ok {
		return name
	}
	return shortName
}
