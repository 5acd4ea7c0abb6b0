package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// Metadata bag keys. The bag is advisory; authoritative pipeline state lives
// on the typed per-stage columns.
const (
	MetaThumbnails          = "thumbnails"
	MetaThumbnailsGenerated = "thumbnails_generated"
	MetaMetadataExtracted   = "metadata_extracted"
	MetaProcessingStarted   = "processing_started"
	MetaProcessingFailed    = "processing_failed"
	MetaPipelineCompletedAt = "pipeline_completed_at"
	MetaPromotionFailed     = "promotion_failed"
	MetaFailureReason       = "failure_reason"
	MetaFailureAttempts     = "failure_attempts"
	MetaVisibilityOverride  = "visibility_override"
	MetaStorageKey          = "storage_key"
	MetaExtracted           = "extracted"
	MetaTags                = "tags"
)

// Asset is one uploaded file under processing. Visibility describes only
// whether the asset appears in end-user views; per-stage statuses and the
// analysis cursor track processing progress.
type Asset struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	BrandID  uuid.UUID `gorm:"column:brand_id;type:uuid;not null"`

	Visibility enums.AssetVisibility `gorm:"column:visibility;type:asset_visibility;not null;default:'hidden'"`

	ThumbnailStatus enums.StageStatus `gorm:"column:thumbnail_status;type:stage_status;not null;default:'pending'"`
	MetadataStatus  enums.StageStatus `gorm:"column:metadata_status;type:stage_status;not null;default:'pending'"`
	TaggingStatus   enums.StageStatus `gorm:"column:tagging_status;type:stage_status;not null;default:'pending'"`
	PromotionStatus enums.StageStatus `gorm:"column:promotion_status;type:stage_status;not null;default:'pending'"`

	AnalysisStatus enums.AnalysisStatus `gorm:"column:analysis_status;not null;default:'uploading'"`

	FileName  string          `gorm:"column:file_name;not null"`
	MimeType  string          `gorm:"column:mime_type;not null"`
	SizeBytes int64           `gorm:"column:size_bytes;not null"`
	Metadata  dbtypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`

	// Version guards reconcile read-modify-write cycles (compare-and-swap).
	Version int `gorm:"column:version;not null;default:0"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// StageStatus returns the typed status column for the given stage.
func (a *Asset) StageStatus(stage enums.Stage) enums.StageStatus {
	switch stage {
	case enums.StageThumbnail:
		return a.ThumbnailStatus
	case enums.StageMetadata:
		return a.MetadataStatus
	case enums.StageTagging:
		return a.TaggingStatus
	case enums.StagePromotion:
		return a.PromotionStatus
	}
	return ""
}

// SetStageStatus writes the typed status column for the given stage.
func (a *Asset) SetStageStatus(stage enums.Stage, status enums.StageStatus) {
	switch stage {
	case enums.StageThumbnail:
		a.ThumbnailStatus = status
	case enums.StageMetadata:
		a.MetadataStatus = status
	case enums.StageTagging:
		a.TaggingStatus = status
	case enums.StagePromotion:
		a.PromotionStatus = status
	}
}

// PipelineSucceeded reports whether every stage ended without blocking the
// pipeline (completed or skipped).
func (a *Asset) PipelineSucceeded() bool {
	for _, stage := range enums.PipelineStages {
		if !a.StageStatus(stage).Succeeded() {
			return false
		}
	}
	return true
}
