package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type assetRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Asset, error)
	SaveStateCAS(ctx context.Context, tx *gorm.DB, asset *models.Asset, expectedVersion int) error
	SetStageStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage enums.Stage, status enums.StageStatus) error
}

type failureRepository interface {
	RecordFailure(ctx context.Context, tx *gorm.DB, failure *models.AssetDerivativeFailure) (*models.AssetDerivativeFailure, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, assetID uuid.UUID) (*reconcile.Result, error)
}

type reporter interface {
	Report(ctx context.Context, report reliability.Report) (*reliability.ReportResult, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type planGate interface {
	Allows(ctx context.Context, tenantID uuid.UUID, feature enums.PlanFeature) (bool, error)
}

// Service runs pipeline stages against assets. One instance serves every
// stage; the per-stage behavior lives in the runners.
type Service struct {
	db       dbClient
	assets   assetRepository
	failures failureRepository
	runners  map[enums.Stage]StageRunner
	repair   reconciler
	reports  reporter
	outbox   outboxEmitter
	plans    planGate
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// ServiceParams carries the service dependencies.
type ServiceParams struct {
	DB         dbClient
	Assets     assetRepository
	Failures   failureRepository
	Runners    map[enums.Stage]StageRunner
	Reconciler reconciler
	Reporter   reporter
	Outbox     outboxEmitter
	// Plans gates optional stage features per tenant. Nil allows everything.
	Plans   planGate
	Metrics *metrics.PipelineMetrics
	Logger  *logger.Logger
}

// NewService constructs the pipeline service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Assets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset repository required")
	}
	if params.Failures == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure repository required")
	}
	if len(params.Runners) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stage runners required")
	}
	for _, stage := range enums.PipelineStages {
		if params.Runners[stage] == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("runner missing for stage %s", stage))
		}
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reconciler required")
	}
	if params.Reporter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reliability reporter required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &Service{
		db:       params.DB,
		assets:   params.Assets,
		failures: params.Failures,
		runners:  params.Runners,
		repair:   params.Reconciler,
		reports:  params.Reporter,
		outbox:   params.Outbox,
		plans:    params.Plans,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// HandleStage executes one stage for the asset. Safe under redelivery: a
// stage that already succeeded only re-runs reconciliation; a failed stage
// runs again, bumping the domain failure counter if it fails once more.
func (s *Service) HandleStage(ctx context.Context, assetID uuid.UUID, stage enums.Stage) error {
	logCtx := s.logg.WithAssetID(ctx, assetID.String())
	logCtx = s.logg.WithStage(logCtx, string(stage))

	asset, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(logCtx, "asset gone, dropping stage job")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load asset")
	}

	if asset.StageStatus(stage).Succeeded() {
		s.logg.Info(logCtx, "stage already completed")
		_, err := s.repair.Reconcile(ctx, assetID)
		return err
	}

	if stage == enums.StageTagging && s.plans != nil {
		allowed, err := s.plans.Allows(ctx, asset.TenantID, enums.FeatureAITagging)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check plan features")
		}
		if !allowed {
			return s.recordSkip(logCtx, asset, stage)
		}
	}

	if err := s.markProcessing(logCtx, asset, stage); err != nil {
		return err
	}

	output, runErr := s.runners[stage].Run(ctx, asset)
	if runErr != nil {
		return s.recordFailure(logCtx, asset, stage, runErr)
	}
	return s.recordSuccess(logCtx, asset, stage, output)
}

// markProcessing parks the stage cursor at processing before the runner
// starts, so the stuck-asset scan can see work in flight. Plain column
// write: the terminal status lands through the CAS path and losing this
// one to a concurrent writer is harmless.
func (s *Service) markProcessing(ctx context.Context, asset *models.Asset, stage enums.Stage) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.assets.SetStageStatus(ctx, tx, asset.ID, stage, enums.StageProcessing)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark stage processing")
	}
	asset.SetStageStatus(stage, enums.StageProcessing)
	return nil
}

// recordSkip parks the stage as skipped and keeps the chain moving. A skipped
// stage counts as succeeded for promotion purposes.
func (s *Service) recordSkip(ctx context.Context, asset *models.Asset, stage enums.Stage) error {
	completedAt := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.assets.FindForUpdate(ctx, tx, asset.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock asset")
		}
		fresh.SetStageStatus(stage, enums.StageSkipped)
		if err := s.assets.SaveStateCAS(ctx, tx, fresh, fresh.Version); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStageCompleted,
			AggregateType: enums.AggregateAsset,
			AggregateID:   fresh.ID,
			Version:       1,
			Data: payloads.StageCompletedEvent{
				AssetID:     fresh.ID,
				TenantID:    fresh.TenantID,
				Stage:       stage,
				CompletedAt: completedAt,
			},
		})
	})
	if err != nil {
		return err
	}

	s.logg.Info(ctx, "stage skipped by plan")

	if _, err := s.repair.Reconcile(ctx, asset.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) recordSuccess(ctx context.Context, asset *models.Asset, stage enums.Stage, output dbtypes.JSONMap) error {
	completedAt := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.assets.FindForUpdate(ctx, tx, asset.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock asset")
		}
		fresh.SetStageStatus(stage, enums.StageCompleted)
		if fresh.Metadata == nil {
			fresh.Metadata = dbtypes.JSONMap{}
		}
		for key, value := range output {
			fresh.Metadata[key] = value
		}
		if err := s.assets.SaveStateCAS(ctx, tx, fresh, fresh.Version); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStageCompleted,
			AggregateType: enums.AggregateAsset,
			AggregateID:   fresh.ID,
			Version:       1,
			Data: payloads.StageCompletedEvent{
				AssetID:     fresh.ID,
				TenantID:    fresh.TenantID,
				Stage:       stage,
				CompletedAt: completedAt,
			},
		})
	})
	if err != nil {
		return err
	}

	s.metrics.IncStageCompleted(string(stage))
	s.logg.Info(ctx, "stage completed")

	if _, err := s.repair.Reconcile(ctx, asset.ID); err != nil {
		return err
	}
	return nil
}

// recordFailure implements the stage failure contract: persist the reason,
// bump the domain counter, funnel the incident through the reliability
// engine, and emit the failure event for the triage subscriber.
func (s *Service) recordFailure(ctx context.Context, asset *models.Asset, stage enums.Stage, runErr error) error {
	var stageErr *StageError
	if !errors.As(runErr, &stageErr) {
		stageErr = &StageError{
			Reason: enums.DerivativeToolCrashed,
			Trace:  runErr.Error(),
			Cause:  runErr,
		}
	}

	severity := enums.SeverityError
	if stageErr.Reason.CriticalForDerivative() || stageErr.Reason.CriticalForUpload() {
		severity = enums.SeverityCritical
	}
	report, err := s.reports.Report(ctx, reliability.Report{
		SourceType:      enums.SourceDerivative,
		SourceID:        asset.ID.String(),
		TenantID:        &asset.TenantID,
		Severity:        severity,
		Title:           fmt.Sprintf("%s stage failed", stage),
		Message:         stageErr.Error(),
		Retryable:       stageErr.Reason.Retryable(),
		UniqueSignature: fmt.Sprintf("stage_failure:%s:%s", asset.ID, stage),
		Metadata: dbtypes.JSONMap{
			"stage":                  string(stage),
			"reason":                 string(stageErr.Reason),
			models.IncidentMetaTrace: stageErr.Trace,
		},
	})
	if err != nil {
		return err
	}

	failedAt := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.assets.FindForUpdate(ctx, tx, asset.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock asset")
		}
		fresh.SetStageStatus(stage, enums.StageFailed)
		if fresh.Metadata == nil {
			fresh.Metadata = dbtypes.JSONMap{}
		}
		fresh.Metadata[models.MetaFailureReason] = string(stageErr.Reason)

		failure, err := s.failures.RecordFailure(ctx, tx, &models.AssetDerivativeFailure{
			TenantID: asset.TenantID,
			AssetID:  asset.ID,
			Stage:    stage,
			FailureTracking: models.FailureTracking{
				FailureReason: stageErr.Reason,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stage failure")
		}
		fresh.Metadata[models.MetaFailureAttempts] = failure.FailureCount

		if err := s.assets.SaveStateCAS(ctx, tx, fresh, fresh.Version); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStageFailed,
			AggregateType: enums.AggregateAsset,
			AggregateID:   fresh.ID,
			Version:       1,
			Data: payloads.StageFailedEvent{
				AssetID:    fresh.ID,
				TenantID:   fresh.TenantID,
				Stage:      stage,
				IncidentID: report.Incident.ID,
				Reason:     stageErr.Reason,
				Trace:      stageErr.Trace,
				FailedAt:   failedAt,
			},
		})
	})
	if err != nil {
		return err
	}

	s.metrics.IncStageFailed(string(stage))
	s.logg.Error(ctx, "stage failed", runErr)

	if _, err := s.repair.Reconcile(ctx, asset.ID); err != nil {
		return err
	}

	if stageErr.Reason.Retryable() {
		// Redelivery re-runs the stage and bumps the domain counter on the
		// next failure.
		return pkgerrors.Wrap(pkgerrors.CodeDependency, runErr, "retryable stage failure")
	}
	return nil
}
