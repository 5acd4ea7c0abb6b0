package distribution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
)

// DownloadRepository persists per-asset delivery failure rows. One row per
// asset; repeated failures bump the counter in place.
type DownloadRepository struct {
	db *gorm.DB
}

// NewDownloadRepository constructs the repository.
func NewDownloadRepository(db *gorm.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// FindByAsset returns the delivery tracking row for the asset.
func (r *DownloadRepository) FindByAsset(ctx context.Context, assetID uuid.UUID) (*models.Download, error) {
	var download models.Download
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&download).Error
	if err != nil {
		return nil, err
	}
	return &download, nil
}

// RecordFailure upserts the asset's delivery row: the first failure inserts
// it, later ones bump failure_count and refresh the reason. The returned row
// reflects the post-write state.
func (r *DownloadRepository) RecordFailure(ctx context.Context, tx *gorm.DB, download *models.Download) (*models.Download, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	now := time.Now().UTC()
	download.FailureCount = 1
	download.LastFailedAt = &now

	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"failure_count":  gorm.Expr("downloads.failure_count + 1"),
			"failure_reason": download.FailureReason,
			"last_failed_at": now,
			"updated_at":     now,
		}),
	}).Create(download).Error
	if err != nil {
		return nil, err
	}

	var current models.Download
	err = tx.WithContext(ctx).
		Where("asset_id = ?", download.AssetID).
		First(&current).Error
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// SetEscalationTicket links the delivery row to its ticket once.
func (r *DownloadRepository) SetEscalationTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID, ticketID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.Download{}).
		Where("id = ? AND escalation_ticket_id IS NULL", id).
		Update("escalation_ticket_id", ticketID).Error
}
