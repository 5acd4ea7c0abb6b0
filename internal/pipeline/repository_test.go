package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
)

func setupFailuresTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS asset_derivative_failures (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  asset_id TEXT NOT NULL,
  stage TEXT NOT NULL,
  failure_reason TEXT,
  failure_count INTEGER NOT NULL DEFAULT 0,
  last_failed_at DATETIME,
  escalation_ticket_id TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  deleted_at DATETIME,
  UNIQUE (asset_id, stage)
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newFailureRow(assetID uuid.UUID, stage enums.Stage, reason enums.FailureReason) *models.AssetDerivativeFailure {
	return &models.AssetDerivativeFailure{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		AssetID:  assetID,
		Stage:    stage,
		FailureTracking: models.FailureTracking{
			FailureReason: reason,
		},
	}
}

func TestRecordFailureUpsertsCounter(t *testing.T) {
	db := setupFailuresTestDB(t)
	repo := NewFailureRepository(db)
	ctx := context.Background()
	assetID := uuid.New()

	first, err := repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)
	assert.Equal(t, 1, first.FailureCount)
	assert.NotNil(t, first.LastFailedAt)

	second, err := repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeStorageError))
	require.NoError(t, err)
	assert.Equal(t, 2, second.FailureCount)
	assert.Equal(t, enums.DerivativeStorageError, second.FailureReason)
	assert.Equal(t, first.ID, second.ID, "conflict must update the existing row")

	// A different stage starts its own counter.
	other, err := repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageTagging, enums.DerivativeTimeout))
	require.NoError(t, err)
	assert.Equal(t, 1, other.FailureCount)
}

func TestFindByAssetStage(t *testing.T) {
	db := setupFailuresTestDB(t)
	repo := NewFailureRepository(db)
	ctx := context.Background()
	assetID := uuid.New()

	_, err := repo.FindByAssetStage(ctx, assetID, enums.StageThumbnail)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)

	found, err := repo.FindByAssetStage(ctx, assetID, enums.StageThumbnail)
	require.NoError(t, err)
	assert.Equal(t, enums.DerivativeTimeout, found.FailureReason)
}

func TestSetEscalationTicketIsWriteOnce(t *testing.T) {
	db := setupFailuresTestDB(t)
	repo := NewFailureRepository(db)
	ctx := context.Background()
	assetID := uuid.New()

	row, err := repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)

	firstTicket := uuid.New()
	require.NoError(t, repo.SetEscalationTicket(ctx, db, row.ID, firstTicket))
	require.NoError(t, repo.SetEscalationTicket(ctx, db, row.ID, uuid.New()))

	found, err := repo.FindByAssetStage(ctx, assetID, enums.StageThumbnail)
	require.NoError(t, err)
	require.NotNil(t, found.EscalationTicketID)
	assert.Equal(t, firstTicket, *found.EscalationTicketID, "the first ticket link must stick")
}

func TestListEscalatedBefore(t *testing.T) {
	db := setupFailuresTestDB(t)
	repo := NewFailureRepository(db)
	ctx := context.Background()

	row, err := repo.RecordFailure(ctx, db, newFailureRow(uuid.New(), enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)
	require.NoError(t, repo.SetEscalationTicket(ctx, db, row.ID, uuid.New()))

	rows, err := repo.ListEscalatedBefore(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = repo.ListEscalatedBefore(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClearEscalationTicketResetsCounter(t *testing.T) {
	db := setupFailuresTestDB(t)
	repo := NewFailureRepository(db)
	ctx := context.Background()
	assetID := uuid.New()

	row, err := repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)
	_, err = repo.RecordFailure(ctx, db, newFailureRow(assetID, enums.StageThumbnail, enums.DerivativeTimeout))
	require.NoError(t, err)
	require.NoError(t, repo.SetEscalationTicket(ctx, db, row.ID, uuid.New()))

	require.NoError(t, repo.ClearEscalationTicket(ctx, row.ID))

	found, err := repo.FindByAssetStage(ctx, assetID, enums.StageThumbnail)
	require.NoError(t, err)
	assert.Nil(t, found.EscalationTicketID)
	assert.Equal(t, 0, found.FailureCount, "a recurrence must count toward a fresh escalation")

	// Clearing an already-detached row is a no-op.
	require.NoError(t, repo.ClearEscalationTicket(ctx, row.ID))
}
