package enums

import "fmt"

// PlanFeature names a capability gated by a tenant's billing plan. The core
// consults the plan gate read-only; billing computation lives elsewhere.
type PlanFeature string

const (
	FeatureAITagging     PlanFeature = "ai_tagging"
	FeatureAutoRepair    PlanFeature = "auto_repair"
	FeatureTriageSummary PlanFeature = "triage_summary"
)

var validPlanFeatures = []PlanFeature{
	FeatureAITagging,
	FeatureAutoRepair,
	FeatureTriageSummary,
}

// String returns the literal string for the feature.
func (f PlanFeature) String() string {
	return string(f)
}

// IsValid reports whether the feature is known.
func (f PlanFeature) IsValid() bool {
	for _, candidate := range validPlanFeatures {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParsePlanFeature converts raw input into a PlanFeature.
func ParsePlanFeature(value string) (PlanFeature, error) {
	for _, candidate := range validPlanFeatures {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan feature %q", value)
}
