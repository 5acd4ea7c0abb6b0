package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// FailureTracking carries the shared escalation fields of the three
// failure-tracking entities. Escalation fires once FailureCount reaches the
// threshold or a ticket already exists.
type FailureTracking struct {
	FailureReason      enums.FailureReason `gorm:"column:failure_reason"`
	FailureCount       int                 `gorm:"column:failure_count;not null;default:0"`
	LastFailedAt       *time.Time          `gorm:"column:last_failed_at"`
	EscalationTicketID *uuid.UUID          `gorm:"column:escalation_ticket_id;type:uuid"`
}

// HasTicket reports whether an escalation ticket is already attached.
func (f FailureTracking) HasTicket() bool {
	return f.EscalationTicketID != nil
}

// UploadSession tracks one client upload through finalize.
type UploadSession struct {
	ID       uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;index"`
	AssetID  *uuid.UUID `gorm:"column:asset_id;type:uuid"`

	ObjectKey string `gorm:"column:object_key;not null"`
	Finalized bool   `gorm:"column:finalized;not null;default:false"`

	FailureTracking `gorm:"embedded"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// Download tracks delivery health for one asset. One row per asset;
// repeated distribution failures bump the counter in place.
type Download struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	AssetID  uuid.UUID `gorm:"column:asset_id;type:uuid;not null;uniqueIndex"`

	FailureTracking `gorm:"embedded"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// AssetDerivativeFailure records repeated derivative-generation failures for
// one asset and stage.
type AssetDerivativeFailure struct {
	ID       uuid.UUID   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID uuid.UUID   `gorm:"column:tenant_id;type:uuid;not null;index"`
	AssetID  uuid.UUID   `gorm:"column:asset_id;type:uuid;not null;index"`
	Stage    enums.Stage `gorm:"column:stage;not null"`

	FailureTracking `gorm:"embedded"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}
