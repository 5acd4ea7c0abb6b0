package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// FailureRepository persists per-asset, per-stage derivative failure rows.
// One row per (asset, stage); repeated failures bump the counter in place.
type FailureRepository struct {
	db *gorm.DB
}

// NewFailureRepository constructs the repository.
func NewFailureRepository(db *gorm.DB) *FailureRepository {
	return &FailureRepository{db: db}
}

// FindByAssetStage returns the failure row for the asset and stage.
func (r *FailureRepository) FindByAssetStage(ctx context.Context, assetID uuid.UUID, stage enums.Stage) (*models.AssetDerivativeFailure, error) {
	var failure models.AssetDerivativeFailure
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND stage = ?", assetID, stage).
		First(&failure).Error
	if err != nil {
		return nil, err
	}
	return &failure, nil
}

// RecordFailure upserts the (asset, stage) row: the first failure inserts
// it, later ones bump failure_count and refresh the reason. The returned
// row reflects the post-write state.
func (r *FailureRepository) RecordFailure(ctx context.Context, tx *gorm.DB, failure *models.AssetDerivativeFailure) (*models.AssetDerivativeFailure, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	now := time.Now().UTC()
	failure.FailureCount = 1
	failure.LastFailedAt = &now

	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}, {Name: "stage"}},
		DoUpdates: clause.Assignments(map[string]any{
			"failure_count":  gorm.Expr("asset_derivative_failures.failure_count + 1"),
			"failure_reason": failure.FailureReason,
			"last_failed_at": now,
			"updated_at":     now,
		}),
	}).Create(failure).Error
	if err != nil {
		return nil, err
	}

	var current models.AssetDerivativeFailure
	err = tx.WithContext(ctx).
		Where("asset_id = ? AND stage = ?", failure.AssetID, failure.Stage).
		First(&current).Error
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// SetEscalationTicket links the failure row to its ticket once.
func (r *FailureRepository) SetEscalationTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID, ticketID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.AssetDerivativeFailure{}).
		Where("id = ? AND escalation_ticket_id IS NULL", id).
		Update("escalation_ticket_id", ticketID).Error
}

// ClearEscalationTicket detaches the failure row from its resolved ticket
// and resets the counter, so a recurrence counts toward a fresh escalation
// instead of hiding behind the closed one.
func (r *FailureRepository) ClearEscalationTicket(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.AssetDerivativeFailure{}).
		Where("id = ? AND escalation_ticket_id IS NOT NULL", id).
		Updates(map[string]any{
			"escalation_ticket_id": nil,
			"failure_count":        0,
		}).Error
}

// ListEscalatedBefore returns failure rows whose tickets were cut before the
// cutoff; used by retention cleanup.
func (r *FailureRepository) ListEscalatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AssetDerivativeFailure, error) {
	var rows []models.AssetDerivativeFailure
	err := r.db.WithContext(ctx).
		Where("escalation_ticket_id IS NOT NULL AND updated_at < ?", cutoff).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
