package enums

import "fmt"

// IncidentSource identifies the kind of entity an incident was detected on.
type IncidentSource string

const (
	SourceAsset      IncidentSource = "asset"
	SourceJob        IncidentSource = "job"
	SourceDerivative IncidentSource = "derivative"
	SourceUpload     IncidentSource = "upload"
	SourceDownload   IncidentSource = "download"
)

var validIncidentSources = []IncidentSource{
	SourceAsset,
	SourceJob,
	SourceDerivative,
	SourceUpload,
	SourceDownload,
}

// String returns the literal string for the source.
func (s IncidentSource) String() string {
	return string(s)
}

// IsValid reports whether the source is known.
func (s IncidentSource) IsValid() bool {
	for _, candidate := range validIncidentSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIncidentSource converts raw input into an IncidentSource.
func ParseIncidentSource(value string) (IncidentSource, error) {
	for _, candidate := range validIncidentSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid incident source %q", value)
}
