package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

const (
	pendingRetentionDays = 7
	pendingCleanupBatch  = 200
)

type staleUploadRepo interface {
	ListUnfinalizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadSession, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type abandonedAssetRepo interface {
	ListNeverStarted(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// PendingUploadCleanupJobParams configures the abandoned-upload cleanup.
type PendingUploadCleanupJobParams struct {
	Logger    *logger.Logger
	Uploads   staleUploadRepo
	Assets    abandonedAssetRepo
	Retention int
	BatchSize int
}

// NewPendingUploadCleanupJob constructs the cleanup for uploads that never
// finalized and assets that never left the uploading state.
func NewPendingUploadCleanupJob(params PendingUploadCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Uploads == nil {
		return nil, fmt.Errorf("upload session repository required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("asset repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = pendingRetentionDays
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = pendingCleanupBatch
	}
	return &pendingUploadCleanupJob{
		logg:      params.Logger,
		uploads:   params.Uploads,
		assets:    params.Assets,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type pendingUploadCleanupJob struct {
	logg      *logger.Logger
	uploads   staleUploadRepo
	assets    abandonedAssetRepo
	retention int
	batch     int
	now       func() time.Time
}

func (j *pendingUploadCleanupJob) Name() string { return "pending-upload-cleanup" }

func (j *pendingUploadCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)

	var errs error
	sessions, err := j.uploads.ListUnfinalizedBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale uploads: %w", err)
	}
	var sessionsDeleted int
	for _, session := range sessions {
		if err := j.uploads.SoftDelete(ctx, session.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upload session %s: %w", session.ID, err))
			continue
		}
		sessionsDeleted++
	}

	assets, err := j.assets.ListNeverStarted(ctx, cutoff, j.batch)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list abandoned assets: %w", err))
	}
	var assetsDeleted int
	for _, asset := range assets {
		if err := j.assets.SoftDelete(ctx, asset.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("asset %s: %w", asset.ID, err))
			continue
		}
		assetsDeleted++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"sessions_deleted": sessionsDeleted,
		"assets_deleted":   assetsDeleted,
	})
	j.logg.Info(logCtx, "pending upload cleanup complete")
	return errs
}
