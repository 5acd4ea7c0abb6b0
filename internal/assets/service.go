package assets

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type assetRepository interface {
	Create(ctx context.Context, tx *gorm.DB, asset *models.Asset) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Asset, error)
	SaveStateCAS(ctx context.Context, tx *gorm.DB, asset *models.Asset, expectedVersion int) error
}

type uploadSessionRepository interface {
	Create(ctx context.Context, session *models.UploadSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)
	MarkFinalized(ctx context.Context, tx *gorm.DB, id, assetID uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the upload-finalize entry point into the pipeline and the
// admin-facing asset state operations.
type Service struct {
	db      dbClient
	repo    assetRepository
	uploads uploadSessionRepository
	outbox  outboxEmitter
	logg    *logger.Logger
	now     func() time.Time
}

// ServiceParams carries the service dependencies.
type ServiceParams struct {
	DB      dbClient
	Repo    assetRepository
	Uploads uploadSessionRepository
	Outbox  outboxEmitter
	Logger  *logger.Logger
}

// NewService constructs the asset service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset repository required")
	}
	if params.Uploads == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "upload session repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &Service{
		db:      params.DB,
		repo:    params.Repo,
		uploads: params.Uploads,
		outbox:  params.Outbox,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// FinalizeInput is the payload for upload finalization.
type FinalizeInput struct {
	UploadSessionID uuid.UUID
	TenantID        uuid.UUID
	BrandID         uuid.UUID
	FileName        string
	MimeType        string
	SizeBytes       int64
}

// FinalizeUpload creates the asset row, marks the session finalized and
// queues the pipeline kickoff event, all in one transaction.
func (s *Service) FinalizeUpload(ctx context.Context, input FinalizeInput) (*models.Asset, error) {
	if input.UploadSessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "upload_session_id required")
	}
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id required")
	}
	if input.BrandID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "brand_id required")
	}
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file_name required")
	}
	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "size_bytes must be positive")
	}

	session, err := s.uploads.FindByID(ctx, input.UploadSessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "upload session not found")
	}
	if session.TenantID != input.TenantID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "upload session belongs to another tenant")
	}
	if session.Finalized {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "upload session already finalized")
	}

	asset := &models.Asset{
		ID:             uuid.New(),
		TenantID:       input.TenantID,
		BrandID:        input.BrandID,
		Visibility:     enums.AssetHidden,
		AnalysisStatus: enums.AnalysisUploading,
		FileName:       fileName,
		MimeType:       strings.TrimSpace(input.MimeType),
		SizeBytes:      input.SizeBytes,
		Metadata: dbtypes.JSONMap{
			models.MetaProcessingStarted: true,
			models.MetaStorageKey:        session.ObjectKey,
		},
	}
	for _, stage := range enums.PipelineStages {
		asset.SetStageStatus(stage, enums.StagePending)
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, asset); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create asset")
		}
		if err := s.uploads.MarkFinalized(ctx, tx, session.ID, asset.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize upload session")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssetUploaded,
			AggregateType: enums.AggregateAsset,
			AggregateID:   asset.ID,
			Version:       1,
			Data: payloads.AssetUploadedEvent{
				AssetID:         asset.ID,
				TenantID:        asset.TenantID,
				UploadSessionID: session.ID,
				StorageKey:      session.ObjectKey,
				ContentType:     asset.MimeType,
				SizeBytes:       asset.SizeBytes,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithAssetID(s.logg.WithTenantID(ctx, asset.TenantID.String()), asset.ID.String())
	s.logg.Info(logCtx, "upload finalized, pipeline queued")
	return asset, nil
}

// PipelineState is the admin-facing view over an asset's processing state.
type PipelineState struct {
	AssetID        uuid.UUID                         `json:"asset_id"`
	TenantID       uuid.UUID                         `json:"tenant_id"`
	Visibility     enums.AssetVisibility             `json:"visibility"`
	AnalysisStatus enums.AnalysisStatus              `json:"analysis_status"`
	Stages         map[enums.Stage]enums.StageStatus `json:"stages"`
	Version        int                               `json:"version"`
	UpdatedAt      time.Time                         `json:"updated_at"`
}

// GetPipelineState returns the current pipeline view for an asset.
func (s *Service) GetPipelineState(ctx context.Context, assetID uuid.UUID) (*PipelineState, error) {
	if assetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset_id required")
	}
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "asset not found")
	}
	stages := make(map[enums.Stage]enums.StageStatus, len(enums.PipelineStages))
	for _, stage := range enums.PipelineStages {
		stages[stage] = asset.StageStatus(stage)
	}
	return &PipelineState{
		AssetID:        asset.ID,
		TenantID:       asset.TenantID,
		Visibility:     asset.Visibility,
		AnalysisStatus: asset.AnalysisStatus,
		Stages:         stages,
		Version:        asset.Version,
		UpdatedAt:      asset.UpdatedAt,
	}, nil
}

// OverrideVisibility pins the asset's visibility regardless of pipeline
// state. Admin-only escape hatch; the override flag survives reconciliation.
func (s *Service) OverrideVisibility(ctx context.Context, assetID uuid.UUID, visibility enums.AssetVisibility) error {
	if assetID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "asset_id required")
	}
	if !visibility.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid visibility")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		asset, err := s.repo.FindForUpdate(ctx, tx, assetID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "asset not found")
		}
		if asset.Metadata == nil {
			asset.Metadata = dbtypes.JSONMap{}
		}
		asset.Metadata[models.MetaVisibilityOverride] = true
		asset.Visibility = visibility
		return s.repo.SaveStateCAS(ctx, tx, asset, asset.Version)
	})
}
