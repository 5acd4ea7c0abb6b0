package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// Ticket is the human-facing artifact of an escalated failure. Created only
// by the escalation service; read by admin surfaces.
type Ticket struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID   *uuid.UUID           `gorm:"column:tenant_id;type:uuid"`
	SourceType enums.IncidentSource `gorm:"column:source_type;type:incident_source;not null"`
	SourceID   *string              `gorm:"column:source_id"`
	IncidentID *uuid.UUID           `gorm:"column:incident_id;type:uuid;index"`

	Subject string             `gorm:"column:subject;not null"`
	Body    string             `gorm:"column:body;not null"`
	Status  enums.TicketStatus `gorm:"column:status;type:ticket_status;not null;default:'open'"`

	// AISummary carries the advisory triage summary when classification
	// succeeded; nil when the classifier was skipped or failed.
	AISummary *string `gorm:"column:ai_summary"`

	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt *time.Time `gorm:"column:resolved_at"`
}
