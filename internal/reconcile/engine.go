package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/assets"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

// ErrLeaseHeld is returned when another worker holds the asset's reconcile
// lease. Callers treat it as transient and retry later.
var ErrLeaseHeld = pkgerrors.New(pkgerrors.CodeStateConflict, "asset reconcile lease held")

const leaseScope = "asset_reconcile"

// FieldChange records one corrected field.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Result is the outcome of one reconcile pass. A second pass over the same
// unchanged asset always yields Updated=false.
type Result struct {
	Updated bool
	Changes []FieldChange
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type assetRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	SaveStateCAS(ctx context.Context, tx *gorm.DB, asset *models.Asset, expectedVersion int) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LeaseKey(scope, id string) string
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Engine inspects an asset's persisted flags and repairs drifted derived
// state. All corrections funnel through here; stage jobs only ever write
// their own status column.
type Engine struct {
	db       dbClient
	repo     assetRepository
	leases   leaseStore
	outbox   outboxEmitter
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	leaseTTL time.Duration
	now      func() time.Time
}

// EngineParams carries the engine dependencies.
type EngineParams struct {
	DB       dbClient
	Repo     assetRepository
	Leases   leaseStore
	Outbox   outboxEmitter
	Metrics  *metrics.PipelineMetrics
	Logger   *logger.Logger
	LeaseTTL time.Duration
}

// NewEngine constructs the reconciliation engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset repository required")
	}
	if params.Leases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lease store required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	ttl := params.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		db:       params.DB,
		repo:     params.Repo,
		leases:   params.Leases,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		leaseTTL: ttl,
		now:      time.Now,
	}, nil
}

// Reconcile loads the asset, applies the inference rules and persists any
// corrections under a per-asset lease plus a version compare-and-swap.
func (e *Engine) Reconcile(ctx context.Context, assetID uuid.UUID) (*Result, error) {
	if assetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset_id required")
	}

	leaseKey := e.leases.LeaseKey(leaseScope, assetID.String())
	acquired, err := e.leases.SetNX(ctx, leaseKey, "1", e.leaseTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire reconcile lease")
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}
	defer func() {
		if delErr := e.leases.Del(context.WithoutCancel(ctx), leaseKey); delErr != nil {
			e.logg.Warn(ctx, "release reconcile lease failed")
		}
	}()

	asset, err := e.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "asset not found")
	}
	expectedVersion := asset.Version

	result := e.Evaluate(asset)
	if !result.Updated {
		return &result, nil
	}

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.SaveStateCAS(ctx, tx, asset, expectedVersion); err != nil {
			return err
		}
		changes := make([]payloads.RepairedField, 0, len(result.Changes))
		for _, change := range result.Changes {
			changes = append(changes, payloads.RepairedField(change))
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssetStateRepaired,
			AggregateType: enums.AggregateAsset,
			AggregateID:   asset.ID,
			Version:       1,
			Data: payloads.AssetStateRepairedEvent{
				AssetID:    asset.ID,
				TenantID:   asset.TenantID,
				Changes:    changes,
				RepairedAt: e.now().UTC(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.IncAssetRepaired()
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"asset_id": asset.ID.String(),
		"changes":  len(result.Changes),
	})
	e.logg.Info(logCtx, "asset state repaired")
	return &result, nil
}

// Evaluate applies the inference rules to the asset in place and reports the
// corrections. It is a pure function of the asset's current state (plus the
// clock for the completion stamp) and is idempotent: a second evaluation of
// the corrected asset yields no changes.
func (e *Engine) Evaluate(asset *models.Asset) Result {
	var changes []FieldChange
	if asset.Metadata == nil {
		asset.Metadata = dbtypes.JSONMap{}
	}

	changes = append(changes, backfillStageFlags(asset)...)
	changes = append(changes, advanceAnalysisCursor(asset)...)
	changes = append(changes, e.stampCompletion(asset)...)
	changes = append(changes, repairVisibility(asset)...)

	return Result{Updated: len(changes) > 0, Changes: changes}
}

// backfillStageFlags sets metadata flags that a completed stage forgot to
// write. Flags are only ever set, never cleared: no rule may regress a
// later-stage flag.
func backfillStageFlags(asset *models.Asset) []FieldChange {
	var changes []FieldChange

	if asset.ThumbnailStatus == enums.StageCompleted &&
		!asset.Metadata.Bool(models.MetaThumbnailsGenerated) &&
		asset.Metadata.NonEmptySlice(models.MetaThumbnails) {
		asset.Metadata[models.MetaThumbnailsGenerated] = true
		changes = append(changes, FieldChange{
			Field: "metadata." + models.MetaThumbnailsGenerated,
			From:  "false",
			To:    "true",
		})
	}

	if asset.MetadataStatus == enums.StageCompleted &&
		!asset.Metadata.Bool(models.MetaMetadataExtracted) {
		asset.Metadata[models.MetaMetadataExtracted] = true
		changes = append(changes, FieldChange{
			Field: "metadata." + models.MetaMetadataExtracted,
			From:  "false",
			To:    "true",
		})
	}

	if stageFailed(asset) && !asset.Metadata.Bool(models.MetaProcessingFailed) {
		asset.Metadata[models.MetaProcessingFailed] = true
		changes = append(changes, FieldChange{
			Field: "metadata." + models.MetaProcessingFailed,
			From:  "false",
			To:    "true",
		})
	}

	return changes
}

// advanceAnalysisCursor moves the coarse pipeline cursor forward to match
// the per-stage statuses. The cursor never moves backward, and a failed
// cursor is never overwritten here.
func advanceAnalysisCursor(asset *models.Asset) []FieldChange {
	if asset.AnalysisStatus == enums.AnalysisFailed {
		return nil
	}
	currentRank := asset.AnalysisStatus.Rank()
	if currentRank < 0 {
		// Unknown cursor values are treated as "unknown", not repaired:
		// defaulting conservatively beats asserting progress.
		return nil
	}

	expected := derivedAnalysisStatus(asset)
	if expected.Rank() <= currentRank {
		return nil
	}

	from := asset.AnalysisStatus
	asset.AnalysisStatus = expected
	return []FieldChange{{
		Field: "analysis_status",
		From:  from.String(),
		To:    expected.String(),
	}}
}

// derivedAnalysisStatus is what the cursor should read given the stage
// columns: the step of the first stage still in flight, or complete.
func derivedAnalysisStatus(asset *models.Asset) enums.AnalysisStatus {
	for _, stage := range enums.PipelineStages {
		if asset.StageStatus(stage).Succeeded() {
			continue
		}
		switch stage {
		case enums.StageThumbnail:
			return enums.AnalysisGeneratingThumbnails
		case enums.StageMetadata:
			return enums.AnalysisExtractingMetadata
		case enums.StageTagging:
			return enums.AnalysisTagging
		case enums.StagePromotion:
			return enums.AnalysisPromoting
		}
	}
	return enums.AnalysisComplete
}

// stampCompletion records when the pipeline finished, once.
func (e *Engine) stampCompletion(asset *models.Asset) []FieldChange {
	if !asset.PipelineSucceeded() || asset.AnalysisStatus != enums.AnalysisComplete {
		return nil
	}
	if asset.Metadata.Has(models.MetaPipelineCompletedAt) {
		return nil
	}
	stamp := e.now().UTC().Format(time.RFC3339)
	asset.Metadata[models.MetaPipelineCompletedAt] = stamp
	return []FieldChange{{
		Field: "metadata." + models.MetaPipelineCompletedAt,
		From:  "",
		To:    stamp,
	}}
}

// repairVisibility routes the visibility decision through the one shared
// transition function.
func repairVisibility(asset *models.Asset) []FieldChange {
	next := assets.NextVisibility(asset)
	if next == asset.Visibility {
		return nil
	}
	from := asset.Visibility
	asset.Visibility = next
	return []FieldChange{{
		Field: "visibility",
		From:  from.String(),
		To:    next.String(),
	}}
}

func stageFailed(asset *models.Asset) bool {
	for _, stage := range enums.PipelineStages {
		if asset.StageStatus(stage) == enums.StageFailed {
			return true
		}
	}
	return false
}
