package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
)

// Tenant is one customer account. The core reads it only to resolve plan
// capabilities; account management lives outside this service.
type Tenant struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name     string    `gorm:"column:name;not null"`
	PlanCode string    `gorm:"column:plan_code;not null;default:'free'"`

	// Features holds per-tenant overrides on top of the plan defaults,
	// keyed by enums.PlanFeature with boolean values.
	Features dbtypes.JSONMap `gorm:"column:features;type:jsonb;not null;default:'{}'"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}
