package triage

import (
	"context"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// AgentSeverity is the triage verdict vocabulary of the classification
// agent. It is deliberately separate from enums.IncidentSeverity: the agent
// judges escalation urgency, not incident taxonomy.
type AgentSeverity string

const (
	// AgentSeveritySystem marks a failure the agent believes is systemic
	// and escalation-worthy.
	AgentSeveritySystem AgentSeverity = "system"
	// AgentSeverityWarning is the conservative default for everything else.
	AgentSeverityWarning AgentSeverity = "warning"
)

// EscalationWorthy reports whether the verdict argues for a ticket.
func (s AgentSeverity) EscalationWorthy() bool {
	return s == AgentSeveritySystem
}

// Input is the failure context handed to the classifier. Identifiers only;
// the trace is the only free text and is truncated before transmission.
type Input struct {
	AssetID      uuid.UUID
	TenantID     uuid.UUID
	Stage        enums.Stage
	Reason       enums.FailureReason
	FailureCount int
	Trace        string
}

// Classification is the parsed agent verdict. Advisory: callers must not
// treat it as a gate for escalation correctness.
type Classification struct {
	Severity       AgentSeverity
	Summary        string
	Recommendation string
}

// Classifier asks an external text model to triage a failure.
type Classifier interface {
	Classify(ctx context.Context, input Input) (*Classification, error)
}

// ShouldDispatch decides whether a stage failure warrants a triage run:
// the failure counter reached the triage threshold, or the reason sits in
// the stage's critical set.
func ShouldDispatch(source enums.IncidentSource, reason enums.FailureReason, failureCount, threshold int) bool {
	if threshold <= 0 {
		threshold = 2
	}
	if failureCount >= threshold {
		return true
	}
	switch source {
	case enums.SourceUpload:
		return reason.CriticalForUpload()
	case enums.SourceDerivative:
		return reason.CriticalForDerivative()
	default:
		return false
	}
}
