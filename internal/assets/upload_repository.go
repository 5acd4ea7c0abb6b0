package assets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

// UploadSessionRepository persists upload sessions and their failure tracking.
type UploadSessionRepository struct {
	db *gorm.DB
}

// NewUploadSessionRepository constructs the repository.
func NewUploadSessionRepository(db *gorm.DB) *UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

// Create persists a new upload session.
func (r *UploadSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID retrieves an upload session.
func (r *UploadSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkFinalized flips the session to finalized and links the created asset.
func (r *UploadSessionRepository) MarkFinalized(ctx context.Context, tx *gorm.DB, id, assetID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND finalized = ?", id, false).
		Updates(map[string]any{
			"finalized": true,
			"asset_id":  assetID,
		}).Error
}

// RecordFailure stamps the failure reason and bumps the monotonic counter.
func (r *UploadSessionRepository) RecordFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason enums.FailureReason, failedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_reason": reason,
			"failure_count":  gorm.Expr("failure_count + 1"),
			"last_failed_at": failedAt,
		}).Error
}

// SetEscalationTicket links the escalation ticket, first writer wins.
func (r *UploadSessionRepository) SetEscalationTicket(ctx context.Context, tx *gorm.DB, id, ticketID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND escalation_ticket_id IS NULL", id).
		Update("escalation_ticket_id", ticketID).Error
}

// ListUnfinalizedBefore returns sessions that never finalized before the
// cutoff. Fed by the pending-asset cleanup job.
func (r *UploadSessionRepository) ListUnfinalizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadSession, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.UploadSession
	err := r.db.WithContext(ctx).
		Where("finalized = ?", false).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SoftDelete marks the session deleted.
func (r *UploadSessionRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UploadSession{}).Error
}
