package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// AssetUploadedEvent kicks off the processing pipeline once an upload finalizes.
type AssetUploadedEvent struct {
	AssetID         uuid.UUID `json:"asset_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	UploadSessionID uuid.UUID `json:"upload_session_id"`
	StorageKey      string    `json:"storage_key"`
	ContentType     string    `json:"content_type,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
}

// StageCompletedEvent chains the pipeline to the next stage for the asset.
type StageCompletedEvent struct {
	AssetID     uuid.UUID   `json:"asset_id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Stage       enums.Stage `json:"stage"`
	CompletedAt time.Time   `json:"completed_at"`
}

// StageFailedEvent carries a stage failure to the triage consumer. The
// failure has already been recorded as an incident before this event is
// emitted, so IncidentID is always set.
type StageFailedEvent struct {
	AssetID    uuid.UUID           `json:"asset_id"`
	TenantID   uuid.UUID           `json:"tenant_id"`
	Stage      enums.Stage         `json:"stage"`
	IncidentID uuid.UUID           `json:"incident_id"`
	Reason     enums.FailureReason `json:"reason,omitempty"`
	Trace      string              `json:"trace,omitempty"`
	FailedAt   time.Time           `json:"failed_at"`
}

// IncidentRecordedEvent announces either a fresh incident or a refreshed
// duplicate of an unresolved one.
type IncidentRecordedEvent struct {
	IncidentID uuid.UUID              `json:"incident_id"`
	SourceType enums.IncidentSource   `json:"source_type"`
	SourceID   uuid.UUID              `json:"source_id"`
	Severity   enums.IncidentSeverity `json:"severity"`
	Signature  string                 `json:"signature,omitempty"`
	Duplicate  bool                   `json:"duplicate"`
}

// IncidentEscalatedEvent is emitted once per incident when a ticket is cut.
type IncidentEscalatedEvent struct {
	IncidentID   uuid.UUID            `json:"incident_id"`
	TicketID     uuid.UUID            `json:"ticket_id"`
	SourceType   enums.IncidentSource `json:"source_type"`
	SourceID     uuid.UUID            `json:"source_id"`
	FailureCount int                  `json:"failure_count"`
}

// RepairedField describes one field the reconciler changed on an asset.
type RepairedField struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// AssetStateRepairedEvent reports a reconciliation that changed asset state.
type AssetStateRepairedEvent struct {
	AssetID    uuid.UUID       `json:"asset_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	Changes    []RepairedField `json:"changes"`
	RepairedAt time.Time       `json:"repaired_at"`
}
