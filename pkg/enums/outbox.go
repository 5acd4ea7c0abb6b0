package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAsset    OutboxAggregateType = "asset"
	AggregateIncident OutboxAggregateType = "incident"
	AggregateTicket   OutboxAggregateType = "ticket"
	AggregateUpload   OutboxAggregateType = "upload_session"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAsset,
	AggregateIncident,
	AggregateTicket,
	AggregateUpload,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAssetUploaded      OutboxEventType = "asset_uploaded"
	EventStageCompleted     OutboxEventType = "stage_completed"
	EventStageFailed        OutboxEventType = "stage_failed"
	EventIncidentRecorded   OutboxEventType = "incident_recorded"
	EventIncidentEscalated  OutboxEventType = "incident_escalated"
	EventAssetStateRepaired OutboxEventType = "asset_state_repaired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAssetUploaded,
	EventStageCompleted,
	EventStageFailed,
	EventIncidentRecorded,
	EventIncidentEscalated,
	EventAssetStateRepaired,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
