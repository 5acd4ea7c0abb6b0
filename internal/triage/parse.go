package triage

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The agent is not contractually bound to emit valid JSON, so parsing is
// layered: strict unmarshal of the braced region first, per-field regex
// extraction second, keyword heuristics last.
var (
	severityPattern       = regexp.MustCompile(`(?i)"severity"\s*:\s*"([^"]*)"`)
	summaryPattern        = regexp.MustCompile(`(?i)"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	recommendationPattern = regexp.MustCompile(`(?i)"recommendation"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	severityKeyword       = regexp.MustCompile(`(?i)severity`)
)

// proximityWindow is how far past "severity" the word "system" may appear
// for the keyword fallback to treat the verdict as systemic.
const proximityWindow = 40

type agentResponse struct {
	Severity       string `json:"severity"`
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

// ParseClassification extracts a verdict from the raw agent output. It never
// fails: unusable output degrades to the warning default.
func ParseClassification(raw string) Classification {
	if parsed, ok := parseJSON(raw); ok {
		return parsed
	}
	if parsed, ok := parseFields(raw); ok {
		return parsed
	}
	return Classification{Severity: fallbackSeverity(raw)}
}

func parseJSON(raw string) (Classification, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Classification{}, false
	}
	var resp agentResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return Classification{}, false
	}
	if strings.TrimSpace(resp.Severity) == "" && strings.TrimSpace(resp.Summary) == "" {
		return Classification{}, false
	}
	return Classification{
		Severity:       normalizeSeverity(resp.Severity, raw),
		Summary:        strings.TrimSpace(resp.Summary),
		Recommendation: strings.TrimSpace(resp.Recommendation),
	}, true
}

func parseFields(raw string) (Classification, bool) {
	severityMatch := severityPattern.FindStringSubmatch(raw)
	summaryMatch := summaryPattern.FindStringSubmatch(raw)
	if severityMatch == nil && summaryMatch == nil {
		return Classification{}, false
	}
	parsed := Classification{Severity: AgentSeverityWarning}
	if severityMatch != nil {
		parsed.Severity = normalizeSeverity(severityMatch[1], raw)
	} else {
		parsed.Severity = fallbackSeverity(raw)
	}
	if summaryMatch != nil {
		parsed.Summary = strings.TrimSpace(unescape(summaryMatch[1]))
	}
	if match := recommendationPattern.FindStringSubmatch(raw); match != nil {
		parsed.Recommendation = strings.TrimSpace(unescape(match[1]))
	}
	return parsed, true
}

func normalizeSeverity(value, raw string) AgentSeverity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "system", "systemic", "critical":
		return AgentSeveritySystem
	case "warning", "warn", "info":
		return AgentSeverityWarning
	default:
		return fallbackSeverity(raw)
	}
}

// fallbackSeverity applies the keyword heuristic: "system" appearing near
// "severity" in the raw text reads as a systemic verdict, anything else
// defaults to warning.
func fallbackSeverity(raw string) AgentSeverity {
	loc := severityKeyword.FindStringIndex(raw)
	if loc == nil {
		return AgentSeverityWarning
	}
	window := raw[loc[1]:]
	if len(window) > proximityWindow {
		window = window[:proximityWindow]
	}
	if strings.Contains(strings.ToLower(window), "system") {
		return AgentSeveritySystem
	}
	return AgentSeverityWarning
}

func unescape(value string) string {
	var unquoted string
	if err := json.Unmarshal([]byte(`"`+value+`"`), &unquoted); err != nil {
		return value
	}
	return unquoted
}
