package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"guardian/core"
	"guardian/metrics"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// DefaultRegexTimeout bounds a single pattern match against one log.
const DefaultRegexTimeout = 100 * time.Millisecond

// scoringRule adds weight to the risk score when its pattern matches.
type scoringRule struct {
	category string
	weight   int
	summary  string
	pattern  string
}

var scoringRules = []scoringRule{
	{"ransomware", 5, "ransomware behaviour", `ransom|\.locked\b|encrypted your files|vssadmin(?:\.exe)?\s+delete\s+shadows`},
	{"credential_access", 4, "credential dumping tools", `mimikatz|lsass|sekurlsa|hashdump|credential dump`},
	{"malware", 4, "malware or payload delivery", `malware|trojan|backdoor|botnet|beacon|payload|dropper`},
	{"exfiltration", 4, "possible data exfiltration", `exfiltrat|large outbound|transfer to external|dns tunnel`},
	{"brute_force", 3, "repeated authentication failures", `failed password|authentication failure|invalid user|failed login|login failed`},
	{"execution", 3, "suspicious command execution", `powershell(?:\.exe)?\s+-(?:enc|encodedcommand)\b|cmd\.exe\s+/c|curl\s+[^|\n]*\|\s*(?:ba)?sh|wget\s+https?://`},
	{"web_attack", 3, "web application attack patterns", `union\s+select|'\s*or\s+'?1'?\s*=\s*'?1|<script|\.\./\.\./|sql injection`},
	{"lateral_movement", 3, "lateral movement tooling", `psexec|wmic\s+/node|pass-the-hash|remote service created`},
	{"privilege_escalation", 3, "privilege escalation", `privilege escalation|incorrect password attempts|added to (?:group )?(?:administrators|sudoers|wheel)`},
	{"reconnaissance", 2, "network reconnaissance", `port scan|nmap|masscan|syn scan`},
}

// bruteForceVolume is how many failed logins turn a brute force attempt into a sustained one.
const bruteForceVolume = 5

const (
	ipv4Pattern = `\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`
	hashPattern = `\b(?:[a-fA-F0-9]{64}|[a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`
	urlPattern  = `\bhttps?://[^\s"'<>]+`
	userPattern = `\bfor\s+(?:invalid\s+user\s+)?([A-Za-z][A-Za-z0-9._@-]{0,63})\s+from\b|\b(?:user(?:name)?|account)[=:]\s*([A-Za-z][A-Za-z0-9._@-]{0,63})`
	hostPattern = `\b(?:host(?:name)?|computer|device)[=:]\s*([A-Za-z0-9][A-Za-z0-9.-]{0,252})`
	failPattern = `failed password|authentication failure|failed login|login failed`
)

type compiledRule struct {
	scoringRule
	re *regexp2.Regexp
}

// HeuristicGateway scores logs with weighted keyword rules and plans from
// intel verdicts. It needs no network access.
type HeuristicGateway struct {
	rules   []compiledRule
	ip      *regexp2.Regexp
	hash    *regexp2.Regexp
	url     *regexp2.Regexp
	user    *regexp2.Regexp
	host    *regexp2.Regexp
	fail    *regexp2.Regexp
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func mustCompile(pattern string, timeout time.Duration, opts regexp2.RegexOptions) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, opts)
	re.MatchTimeout = timeout
	return re
}

// NewHeuristicGateway compiles the rule set. Every match is bounded by
// regexTimeout because log content is attacker controlled.
func NewHeuristicGateway(regexTimeout time.Duration, logger *zap.SugaredLogger) *HeuristicGateway {
	if regexTimeout <= 0 {
		regexTimeout = DefaultRegexTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	g := &HeuristicGateway{
		ip:      mustCompile(ipv4Pattern, regexTimeout, 0),
		hash:    mustCompile(hashPattern, regexTimeout, 0),
		url:     mustCompile(urlPattern, regexTimeout, 0),
		user:    mustCompile(userPattern, regexTimeout, regexp2.IgnoreCase),
		host:    mustCompile(hostPattern, regexTimeout, regexp2.IgnoreCase),
		fail:    mustCompile(failPattern, regexTimeout, regexp2.IgnoreCase),
		timeout: regexTimeout,
		logger:  logger,
	}
	for _, r := range scoringRules {
		g.rules = append(g.rules, compiledRule{scoringRule: r, re: mustCompile(r.pattern, regexTimeout, regexp2.IgnoreCase)})
	}
	return g
}

// Name returns the gateway name
func (g *HeuristicGateway) Name() string {
	return "heuristic"
}

// Analyze scores rawLog and extracts IPs, hashes and URLs in order of appearance.
func (g *HeuristicGateway) Analyze(ctx context.Context, rawLog string) (core.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return core.Analysis{}, err
	}

	score := 0
	attackType := ""
	topWeight := 0
	var findings []string
	for _, r := range g.rules {
		matched, err := r.re.MatchString(rawLog)
		if err != nil {
			g.logger.Warnw("Scoring rule timed out", "category", r.category, "timeout", g.timeout, "error", err)
			continue
		}
		if !matched {
			continue
		}
		score += r.weight
		findings = append(findings, r.summary)
		if r.weight > topWeight {
			topWeight = r.weight
			attackType = r.category
		}
	}

	failures := len(g.findAll(g.fail, rawLog))
	if failures >= bruteForceVolume {
		score += 2
		findings = append(findings, fmt.Sprintf("%d failed logins", failures))
	}

	indicators := g.extractIndicators(rawLog)
	switch {
	case score == 0 && len(indicators) > 0:
		score = 2
	case score == 0:
		score = 1
	}
	score = clampRisk(score)

	summary := "No known attack patterns found."
	if attackType == "" {
		attackType = "none"
	} else {
		summary = "Observed " + strings.Join(findings, ", ") + "."
	}
	if len(indicators) > 0 {
		summary += fmt.Sprintf(" %d indicator(s) extracted for investigation.", len(indicators))
	}

	metrics.ReasoningCalls.WithLabelValues(g.Name(), "analyze", "success").Inc()
	return core.Analysis{
		RiskScore:  score,
		AttackType: attackType,
		Summary:    summary,
		Indicators: indicators,
	}, nil
}

// Plan blocks confirmed-malicious indicators and escalates to account and
// host actions as the risk grows. Low-risk incidents are only monitored.
func (g *HeuristicGateway) Plan(ctx context.Context, req core.PlanRequest) (core.Plan, error) {
	if err := ctx.Err(); err != nil {
		return core.Plan{}, err
	}

	var actions []core.Action
	var maliciousIPs, maliciousHashes []string
	for _, r := range req.Investigations {
		if !r.IsMalicious() {
			continue
		}
		switch r.Type {
		case core.IndicatorIP:
			maliciousIPs = append(maliciousIPs, r.Indicator)
		case core.IndicatorHash:
			maliciousHashes = append(maliciousHashes, r.Indicator)
		}
	}

	urgency := core.UrgencySoon
	if req.RiskScore >= 7 {
		urgency = core.UrgencyImmediate
	}

	if req.RiskScore > 3 {
		for _, ip := range maliciousIPs {
			actions = append(actions, core.Action{
				Type:          core.ActionBlockIP,
				Target:        ip,
				Urgency:       urgency,
				Justification: "threat intelligence confirms the address is malicious",
			})
		}
		for _, h := range maliciousHashes {
			actions = append(actions, core.Action{
				Type:          core.ActionBlockHash,
				Target:        h,
				Urgency:       urgency,
				Justification: "file hash matches known malware",
			})
		}
		if req.RiskScore >= 7 && (req.AttackType == "brute_force" || req.AttackType == "credential_access") {
			for _, u := range uniqueValues(g.findAll(g.user, req.RawLog, 1, 2)) {
				actions = append(actions, core.Action{
					Type:          core.ActionDisableAccount,
					Target:        u,
					Urgency:       urgency,
					Justification: "account targeted by " + strings.ReplaceAll(req.AttackType, "_", " "),
				})
			}
		}
		if req.RiskScore >= 9 {
			for _, h := range uniqueValues(g.findAll(g.host, req.RawLog, 1)) {
				actions = append(actions, core.Action{
					Type:          core.ActionIsolateHost,
					Target:        h,
					Urgency:       core.UrgencyImmediate,
					Justification: "critical risk on host",
				})
			}
		}
	}

	if len(actions) == 0 {
		target := "incident:" + req.IncidentID
		if len(req.Indicators) > 0 {
			target = req.Indicators[0]
		}
		actions = append(actions, core.Action{
			Type:          core.ActionAlertOnly,
			Target:        target,
			Urgency:       core.UrgencyMonitor,
			Justification: "no confirmed malicious indicators; monitor for recurrence",
		})
	}

	text := fmt.Sprintf("Risk %d/10 (%s). %d malicious IP(s), %d malicious hash(es) confirmed by intelligence. %d action(s) planned.",
		req.RiskScore, req.AttackType, len(maliciousIPs), len(maliciousHashes), len(actions))

	metrics.ReasoningCalls.WithLabelValues(g.Name(), "plan", "success").Inc()
	return normalizePlan(core.Plan{Text: text, Actions: actions}), nil
}

type positioned struct {
	index int
	value string
}

func (g *HeuristicGateway) extractIndicators(rawLog string) []string {
	var found []positioned
	for _, re := range []*regexp2.Regexp{g.url, g.ip, g.hash} {
		found = append(found, g.findAllPositioned(re, rawLog)...)
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].index < found[j].index })
	values := make([]string, 0, len(found))
	for _, f := range found {
		values = append(values, f.value)
	}
	return core.DedupeIndicators(values)
}

func (g *HeuristicGateway) findAllPositioned(re *regexp2.Regexp, input string) []positioned {
	var out []positioned
	m, err := re.FindStringMatch(input)
	for m != nil && err == nil {
		out = append(out, positioned{index: m.Index, value: m.String()})
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		g.logger.Warnw("Indicator extraction timed out", "pattern", re.String(), "error", err)
	}
	return out
}

// findAll returns, for every match, the first non-empty of the given groups.
// No groups means the whole match.
func (g *HeuristicGateway) findAll(re *regexp2.Regexp, input string, groups ...int) []string {
	if len(groups) == 0 {
		groups = []int{0}
	}
	var out []string
	m, err := re.FindStringMatch(input)
	for m != nil && err == nil {
		for _, n := range groups {
			if grp := m.GroupByNumber(n); grp != nil && grp.Length > 0 {
				out = append(out, grp.String())
				break
			}
		}
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		g.logger.Warnw("Pattern scan timed out", "pattern", re.String(), "error", err)
	}
	return out
}

func uniqueValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
