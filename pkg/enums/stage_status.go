package enums

import "fmt"

// StageStatus is the per-stage sub-state machine stored as a first-class
// column per pipeline stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

var validStageStatuses = []StageStatus{
	StagePending,
	StageProcessing,
	StageCompleted,
	StageFailed,
	StageSkipped,
}

// String returns the literal string for the status.
func (s StageStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s StageStatus) IsValid() bool {
	for _, candidate := range validStageStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stage has finished (successfully or not).
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// Succeeded reports whether the stage ended without blocking the pipeline.
func (s StageStatus) Succeeded() bool {
	return s == StageCompleted || s == StageSkipped
}

// ParseStageStatus converts raw input into a StageStatus.
func ParseStageStatus(value string) (StageStatus, error) {
	for _, candidate := range validStageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stage status %q", value)
}
