package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

const (
	defaultStuckAfter = 30 * time.Minute
	stuckScanBatch    = 100
)

type stuckAssetLister interface {
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error)
}

type reliabilityEngine interface {
	Report(ctx context.Context, report reliability.Report) (*reliability.ReportResult, error)
	AttemptRecovery(ctx context.Context, incident *models.SystemIncident) (*reliability.RecoveryResult, error)
	FlagRequiresSupport(ctx context.Context, incident *models.SystemIncident) error
	EscalationEligible(incident *models.SystemIncident, repairFailed bool, failureCount int) bool
}

type ticketCreator interface {
	CreateTicket(ctx context.Context, target escalation.Target, incident *models.SystemIncident, aiSummary *string) (*models.Ticket, error)
}

// StuckAssetJobParams configures the stuck-asset scan.
type StuckAssetJobParams struct {
	Logger      *logger.Logger
	Assets      stuckAssetLister
	Reliability reliabilityEngine
	Escalation  ticketCreator
	StuckAfter  time.Duration
	BatchSize   int
}

// NewStuckAssetJob constructs the periodic stuck-asset scan. Assets sitting
// in a processing stage past the threshold get an incident and one repair
// attempt per cycle; an asset still stuck on the next cycle is flagged for
// support and handed to the escalation service.
func NewStuckAssetJob(params StuckAssetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("asset repository required")
	}
	if params.Reliability == nil {
		return nil, fmt.Errorf("reliability engine required")
	}
	if params.Escalation == nil {
		return nil, fmt.Errorf("escalation service required")
	}
	stuckAfter := params.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = stuckScanBatch
	}
	return &stuckAssetJob{
		logg:        params.Logger,
		assets:      params.Assets,
		reliability: params.Reliability,
		escalation:  params.Escalation,
		stuckAfter:  stuckAfter,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type stuckAssetJob struct {
	logg        *logger.Logger
	assets      stuckAssetLister
	reliability reliabilityEngine
	escalation  ticketCreator
	stuckAfter  time.Duration
	batch       int
	now         func() time.Time
}

func (j *stuckAssetJob) Name() string { return "stuck-asset-scan" }

func (j *stuckAssetJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stuckAfter)
	assets, err := j.assets.ListStuckProcessing(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stuck assets: %w", err)
	}

	var errs error
	var repaired int
	for _, asset := range assets {
		resolved, err := j.handleStuckAsset(ctx, asset, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("asset %s: %w", asset.ID, err))
			continue
		}
		if resolved {
			repaired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"scanned":  len(assets),
		"repaired": repaired,
	})
	j.logg.Info(logCtx, "stuck-asset scan complete")
	return errs
}

func (j *stuckAssetJob) handleStuckAsset(ctx context.Context, asset models.Asset, cutoff time.Time) (bool, error) {
	assetID := asset.ID.String()
	stuckStage := ""
	for _, stage := range enums.PipelineStages {
		if asset.StageStatus(stage) == enums.StageProcessing {
			stuckStage = string(stage)
			break
		}
	}

	report, err := j.reliability.Report(ctx, reliability.Report{
		SourceType:      enums.SourceAsset,
		SourceID:        assetID,
		TenantID:        &asset.TenantID,
		Severity:        enums.SeverityError,
		Title:           "asset stuck in processing",
		Message:         fmt.Sprintf("no pipeline progress since %s", asset.UpdatedAt.UTC().Format(time.RFC3339)),
		Retryable:       true,
		UniqueSignature: fmt.Sprintf("stuck:%s", assetID),
		Metadata: dbtypes.JSONMap{
			"stage":        stuckStage,
			"last_update":  asset.UpdatedAt.UTC(),
			"stuck_cutoff": cutoff,
		},
	})
	if err != nil {
		return false, fmt.Errorf("report: %w", err)
	}

	recovery, err := j.reliability.AttemptRecovery(ctx, report.Incident)
	if err != nil {
		return false, fmt.Errorf("attempt recovery: %w", err)
	}
	if recovery.Resolved {
		return true, nil
	}

	// A deduplicated report means the asset already sat stuck through a
	// previous sweep; repeat detection flags the incident for a human.
	if !report.Created {
		if err := j.reliability.FlagRequiresSupport(ctx, report.Incident); err != nil {
			return false, fmt.Errorf("flag support: %w", err)
		}
	}

	attempts := report.Incident.RepairAttempts()
	if !j.reliability.EscalationEligible(report.Incident, true, attempts) {
		return false, nil
	}

	logCtx := j.logg.WithAssetID(ctx, assetID)
	if _, err := j.escalation.CreateTicket(ctx, escalation.Target{
		SourceType: enums.SourceAsset,
		SourceID:   assetID,
		TenantID:   &asset.TenantID,
		Failure:    models.FailureTracking{FailureCount: attempts},
		Subject:    fmt.Sprintf("asset %s stuck in %s stage", assetID, stuckStage),
	}, report.Incident, nil); err != nil {
		// Escalation failures never abort the sweep.
		j.logg.Error(logCtx, "stuck-asset escalation failed", err)
		return false, nil
	}
	j.logg.Info(logCtx, "stuck asset escalated")
	return false, nil
}
