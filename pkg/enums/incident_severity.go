package enums

import "fmt"

// IncidentSeverity grades a detected anomaly for triage.
type IncidentSeverity string

const (
	SeverityCritical IncidentSeverity = "critical"
	SeverityError    IncidentSeverity = "error"
	SeverityWarning  IncidentSeverity = "warning"
)

var validIncidentSeverities = []IncidentSeverity{
	SeverityCritical,
	SeverityError,
	SeverityWarning,
}

// severityRank orders severities for triage display: critical > error > warning.
var severityRank = map[IncidentSeverity]int{
	SeverityCritical: 3,
	SeverityError:    2,
	SeverityWarning:  1,
}

// String returns the literal string for the severity.
func (s IncidentSeverity) String() string {
	return string(s)
}

// IsValid reports whether the severity is known.
func (s IncidentSeverity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the triage weight. Unknown severities rank below warning.
func (s IncidentSeverity) Rank() int {
	return severityRank[s]
}

// ParseIncidentSeverity converts raw input into an IncidentSeverity.
func ParseIncidentSeverity(value string) (IncidentSeverity, error) {
	for _, candidate := range validIncidentSeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid incident severity %q", value)
}
