package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// Incident metadata keys.
const (
	IncidentMetaSignature      = "unique_signature"
	IncidentMetaRepairAttempts = "repair_attempts"
	IncidentMetaTicketID       = "ticket_id"
	IncidentMetaTrace          = "trace"
)

// SystemIncident is one detected anomaly in the processing pipeline. Rows
// are append-only: incidents are resolved, never deleted.
type SystemIncident struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SourceType enums.IncidentSource   `gorm:"column:source_type;type:incident_source;not null"`
	SourceID   *string                `gorm:"column:source_id"`
	TenantID   *uuid.UUID             `gorm:"column:tenant_id;type:uuid"`
	Severity   enums.IncidentSeverity `gorm:"column:severity;type:incident_severity;not null"`

	Title   string  `gorm:"column:title;not null"`
	Message *string `gorm:"column:message"`

	// UniqueSignature dedups unresolved incidents for the same underlying
	// condition. A partial unique index on (source_type, unique_signature)
	// WHERE resolved_at IS NULL enforces it at the storage layer.
	UniqueSignature *string         `gorm:"column:unique_signature"`
	Metadata        dbtypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`

	Retryable       bool `gorm:"column:retryable;not null;default:false"`
	RequiresSupport bool `gorm:"column:requires_support;not null;default:false"`
	AutoResolved    bool `gorm:"column:auto_resolved;not null;default:false"`

	DetectedAt time.Time  `gorm:"column:detected_at;not null;autoCreateTime"`
	ResolvedAt *time.Time `gorm:"column:resolved_at"`
}

// Resolved reports whether the incident has been closed.
func (i *SystemIncident) Resolved() bool {
	return i.ResolvedAt != nil
}

// RepairAttempts reads the repair counter from the metadata bag.
func (i *SystemIncident) RepairAttempts() int {
	return i.Metadata.Int(IncidentMetaRepairAttempts)
}
