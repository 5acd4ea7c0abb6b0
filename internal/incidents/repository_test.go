package incidents

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
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/pagination"
)

func setupIncidentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS system_incidents (
  id TEXT PRIMARY KEY,
  source_type TEXT NOT NULL,
  source_id TEXT,
  tenant_id TEXT,
  severity TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT,
  unique_signature TEXT,
  metadata TEXT NOT NULL DEFAULT '{}',
  retryable INTEGER NOT NULL DEFAULT 0,
  requires_support INTEGER NOT NULL DEFAULT 0,
  auto_resolved INTEGER NOT NULL DEFAULT 0,
  detected_at DATETIME NOT NULL,
  resolved_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_system_incidents_open_signature
  ON system_incidents (source_type, unique_signature)
  WHERE resolved_at IS NULL AND unique_signature IS NOT NULL;`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newIncident(signature string, severity enums.IncidentSeverity, detectedAt time.Time) *models.SystemIncident {
	var sig *string
	if signature != "" {
		sig = &signature
	}
	return &models.SystemIncident{
		ID:              uuid.New(),
		SourceType:      enums.SourceAsset,
		Severity:        severity,
		Title:           "pipeline stage failed",
		UniqueSignature: sig,
		Metadata:        dbtypes.JSONMap{},
		DetectedAt:      detectedAt,
	}
}

func TestCreateIgnoreDuplicateDedupsOpenSignature(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := newIncident("stuck:asset-1", enums.SeverityError, time.Now().UTC())
	inserted, err := repo.CreateIgnoreDuplicate(ctx, db, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := newIncident("stuck:asset-1", enums.SeverityError, time.Now().UTC())
	inserted, err = repo.CreateIgnoreDuplicate(ctx, db, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&models.SystemIncident{}).
		Where("unique_signature = ? AND resolved_at IS NULL", "stuck:asset-1").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateIgnoreDuplicateAllowsRecurrenceAfterResolve(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := newIncident("stuck:asset-2", enums.SeverityWarning, time.Now().UTC())
	inserted, err := repo.CreateIgnoreDuplicate(ctx, db, first)
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, repo.MarkResolved(ctx, db, first.ID, true, time.Now().UTC()))

	second := newIncident("stuck:asset-2", enums.SeverityWarning, time.Now().UTC())
	inserted, err = repo.CreateIgnoreDuplicate(ctx, db, second)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestFindUnresolvedBySignature(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	missing, err := repo.FindUnresolvedBySignature(ctx, enums.SourceAsset, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	incident := newIncident("stuck:asset-3", enums.SeverityCritical, time.Now().UTC())
	_, err = repo.CreateIgnoreDuplicate(ctx, db, incident)
	require.NoError(t, err)

	found, err := repo.FindUnresolvedBySignature(ctx, enums.SourceAsset, "stuck:asset-3")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, incident.ID, found.ID)
}

func TestMarkResolvedIsIdempotent(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	incident := newIncident("", enums.SeverityError, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, db, incident))

	firstResolve := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkResolved(ctx, db, incident.ID, true, firstResolve))
	require.NoError(t, repo.MarkResolved(ctx, db, incident.ID, false, firstResolve.Add(time.Hour)))

	stored, err := repo.FindByID(ctx, incident.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt)
	assert.True(t, stored.AutoResolved)
	assert.WithinDuration(t, firstResolve, *stored.ResolvedAt, time.Second)
}

func TestListOrdersBySeverityThenRecency(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	oldCritical := newIncident("", enums.SeverityCritical, base)
	newWarning := newIncident("", enums.SeverityWarning, base.Add(30*time.Minute))
	newError := newIncident("", enums.SeverityError, base.Add(20*time.Minute))
	for _, incident := range []*models.SystemIncident{newWarning, oldCritical, newError} {
		require.NoError(t, repo.Create(ctx, db, incident))
	}

	rows, next, err := repo.List(ctx, ListFilter{}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Empty(t, next)
	assert.Equal(t, oldCritical.ID, rows[0].ID)
	assert.Equal(t, newError.ID, rows[1].ID)
	assert.Equal(t, newWarning.ID, rows[2].ID)
}

func TestListFiltersUnresolved(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	open := newIncident("", enums.SeverityError, time.Now().UTC())
	closed := newIncident("", enums.SeverityError, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, db, open))
	require.NoError(t, repo.Create(ctx, db, closed))
	require.NoError(t, repo.MarkResolved(ctx, db, closed.ID, false, time.Now().UTC()))

	rows, _, err := repo.List(ctx, ListFilter{Unresolved: true}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, open.ID, rows[0].ID)
}

func TestListPaginatesAcrossSeverityGroups(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	critNew := newIncident("", enums.SeverityCritical, base.Add(3*time.Minute))
	critMid := newIncident("", enums.SeverityCritical, base.Add(2*time.Minute))
	critOld := newIncident("", enums.SeverityCritical, base.Add(time.Minute))
	// Newer than every critical: lost entirely with a recency-only cursor.
	warning := newIncident("", enums.SeverityWarning, base.Add(30*time.Minute))
	for _, incident := range []*models.SystemIncident{warning, critOld, critNew, critMid} {
		require.NoError(t, repo.Create(ctx, db, incident))
	}

	page1, next, err := repo.List(ctx, ListFilter{}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, next)
	assert.Equal(t, critNew.ID, page1[0].ID)
	assert.Equal(t, critMid.ID, page1[1].ID)

	page2, _, err := repo.List(ctx, ListFilter{}, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, critOld.ID, page2[0].ID)
	assert.Equal(t, warning.ID, page2[1].ID)
}

func TestResolveAbandonedBeforeKeepsRows(t *testing.T) {
	db := setupIncidentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	abandoned := newIncident("", enums.SeverityWarning, now.Add(-90*24*time.Hour))
	recentWarning := newIncident("", enums.SeverityWarning, now)
	oldError := newIncident("", enums.SeverityError, now.Add(-90*24*time.Hour))
	for _, incident := range []*models.SystemIncident{abandoned, recentWarning, oldError} {
		require.NoError(t, repo.Create(ctx, db, incident))
	}

	swept, err := repo.ResolveAbandonedBefore(ctx, now.Add(-30*24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	var count int64
	require.NoError(t, db.Model(&models.SystemIncident{}).Count(&count).Error)
	assert.Equal(t, int64(3), count, "sweep must never delete rows")

	stored, err := repo.FindByID(ctx, abandoned.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt)
	assert.True(t, stored.AutoResolved)

	stillOpen, err := repo.FindByID(ctx, oldError.ID)
	require.NoError(t, err)
	assert.Nil(t, stillOpen.ResolvedAt, "only warnings are swept")
}
