package enums

import "fmt"

// Stage identifies one discrete unit of asset processing.
type Stage string

const (
	StageThumbnail Stage = "thumbnail"
	StageMetadata  Stage = "metadata"
	StageTagging   Stage = "tagging"
	StagePromotion Stage = "promotion"
)

// PipelineStages lists the stages in execution order. A later stage never
// starts before the previous one completes for the same asset.
var PipelineStages = []Stage{
	StageThumbnail,
	StageMetadata,
	StageTagging,
	StagePromotion,
}

// String returns the literal string for the stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid reports whether the stage is known.
func (s Stage) IsValid() bool {
	for _, candidate := range PipelineStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// Next returns the stage that follows s in the pipeline, or "" when s is
// the last stage or unknown.
func (s Stage) Next() Stage {
	for i, candidate := range PipelineStages {
		if candidate == s && i+1 < len(PipelineStages) {
			return PipelineStages[i+1]
		}
	}
	return ""
}

// ParseStage converts raw input into a Stage.
func ParseStage(value string) (Stage, error) {
	for _, candidate := range PipelineStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pipeline stage %q", value)
}
