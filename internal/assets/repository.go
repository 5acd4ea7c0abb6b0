package assets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
)

// ErrVersionConflict is returned when a compare-and-swap update loses the
// race against a concurrent writer.
var ErrVersionConflict = pkgerrors.New(pkgerrors.CodeStateConflict, "asset version conflict")

// Repository exposes asset persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an asset repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new asset.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, asset *models.Asset) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Create(asset).Error
}

// FindByID retrieves an asset by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindForUpdate locks the asset row for the duration of the transaction.
func (r *Repository) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Asset, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var asset models.Asset
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&asset, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// SaveStateCAS persists the asset's derived state guarded by the version
// column. The write succeeds only when no concurrent writer bumped the
// version since the caller read the row.
func (r *Repository) SaveStateCAS(ctx context.Context, tx *gorm.DB, asset *models.Asset, expectedVersion int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	result := tx.WithContext(ctx).Model(&models.Asset{}).
		Where("id = ? AND version = ?", asset.ID, expectedVersion).
		Updates(map[string]any{
			"visibility":       asset.Visibility,
			"thumbnail_status": asset.ThumbnailStatus,
			"metadata_status":  asset.MetadataStatus,
			"tagging_status":   asset.TaggingStatus,
			"promotion_status": asset.PromotionStatus,
			"analysis_status":  asset.AnalysisStatus,
			"metadata":         asset.Metadata,
			"version":          expectedVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	asset.Version = expectedVersion + 1
	return nil
}

// SetStageStatus writes one stage's status column directly. Stage handlers
// use it for the processing transition where a lost write is harmless.
func (r *Repository) SetStageStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage enums.Stage, status enums.StageStatus) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	column, err := stageColumn(stage)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Model(&models.Asset{}).
		Where("id = ?", id).
		Update(column, status).Error
}

func stageColumn(stage enums.Stage) (string, error) {
	switch stage {
	case enums.StageThumbnail:
		return "thumbnail_status", nil
	case enums.StageMetadata:
		return "metadata_status", nil
	case enums.StageTagging:
		return "tagging_status", nil
	case enums.StagePromotion:
		return "promotion_status", nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown pipeline stage")
}

// ListStuckProcessing returns assets sitting in a processing stage whose
// last update is older than the cutoff. Fed by the periodic stuck-asset scan.
func (r *Repository) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Asset
	err := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Where(
			r.db.Where("thumbnail_status = ?", enums.StageProcessing).
				Or("metadata_status = ?", enums.StageProcessing).
				Or("tagging_status = ?", enums.StageProcessing).
				Or("promotion_status = ?", enums.StageProcessing),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListNeverStarted returns hidden assets that never left the uploading state
// before the cutoff. Fed by the pending-asset cleanup job.
func (r *Repository) ListNeverStarted(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Asset
	err := r.db.WithContext(ctx).
		Where("analysis_status = ?", enums.AnalysisUploading).
		Where("created_at < ?", cutoff).
		Where("visibility = ?", enums.AssetHidden).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SoftDelete marks the asset deleted.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Asset{}).Error
}
