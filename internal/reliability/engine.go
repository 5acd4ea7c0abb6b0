package reliability

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

const defaultFailureThreshold = 3

// Report is the single ingress shape for "something went wrong" reports
// from any pipeline stage.
type Report struct {
	SourceType      enums.IncidentSource
	SourceID        string
	TenantID        *uuid.UUID
	Severity        enums.IncidentSeverity
	Title           string
	Message         string
	Retryable       bool
	RequiresSupport bool
	UniqueSignature string
	Metadata        dbtypes.JSONMap
}

// ReportResult carries the stored incident and whether this call created it.
type ReportResult struct {
	Incident *models.SystemIncident
	Created  bool
}

// RecoveryResult is the outcome of one auto-repair attempt.
type RecoveryResult struct {
	Resolved bool
	Changes  []reconcile.FieldChange
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type incidentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident) error
	CreateIgnoreDuplicate(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident) (bool, error)
	FindUnresolvedBySignature(ctx context.Context, sourceType enums.IncidentSource, signature string) (*models.SystemIncident, error)
	MarkResolved(ctx context.Context, tx *gorm.DB, id uuid.UUID, auto bool, resolvedAt time.Time) error
	MarkRequiresSupport(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	UpdateMetadata(ctx context.Context, tx *gorm.DB, id uuid.UUID, metadata dbtypes.JSONMap) error
	TouchDetectedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type reconciler interface {
	Reconcile(ctx context.Context, assetID uuid.UUID) (*reconcile.Result, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type planGate interface {
	Allows(ctx context.Context, tenantID uuid.UUID, feature enums.PlanFeature) (bool, error)
}

// Engine is the central decision point for failure reports: record the
// incident, try an auto-repair, or flag for escalation. The engine never
// creates tickets itself.
type Engine struct {
	db        dbClient
	incidents incidentRepository
	repairer  reconciler
	outbox    outboxEmitter
	plans     planGate
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	threshold int
	now       func() time.Time
}

// EngineParams carries the engine dependencies.
type EngineParams struct {
	DB         dbClient
	Incidents  incidentRepository
	Reconciler reconciler
	Outbox     outboxEmitter
	// Plans gates auto-repair per tenant. Nil allows everything.
	Plans            planGate
	Metrics          *metrics.PipelineMetrics
	Logger           *logger.Logger
	FailureThreshold int
}

// NewEngine constructs the reliability engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Incidents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "incident repository required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reconciler required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	threshold := params.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Engine{
		db:        params.DB,
		incidents: params.Incidents,
		repairer:  params.Reconciler,
		outbox:    params.Outbox,
		plans:     params.Plans,
		metrics:   params.Metrics,
		logg:      params.Logger,
		threshold: threshold,
		now:       time.Now,
	}, nil
}

// Report records the anomaly. Reports carrying a unique signature are
// deduplicated against the open incident holding it: the duplicate report
// refreshes detected_at and returns the existing row.
func (e *Engine) Report(ctx context.Context, report Report) (*ReportResult, error) {
	if !report.SourceType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid source_type")
	}
	if !report.Severity.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid severity")
	}
	title := strings.TrimSpace(report.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}

	incident := e.buildIncident(report, title)
	signature := strings.TrimSpace(report.UniqueSignature)

	var result ReportResult
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		if signature == "" {
			if err := e.incidents.Create(ctx, tx, incident); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create incident")
			}
			result = ReportResult{Incident: incident, Created: true}
			return e.emitRecorded(ctx, tx, incident, signature, false)
		}

		inserted, err := e.incidents.CreateIgnoreDuplicate(ctx, tx, incident)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create incident")
		}
		if inserted {
			result = ReportResult{Incident: incident, Created: true}
			return e.emitRecorded(ctx, tx, incident, signature, false)
		}

		existing, err := e.incidents.FindUnresolvedBySignature(ctx, report.SourceType, signature)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find deduplicated incident")
		}
		if existing == nil {
			// The open incident resolved between insert and lookup; report
			// the condition again as a fresh row.
			if err := e.incidents.Create(ctx, tx, incident); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create incident after resolve race")
			}
			result = ReportResult{Incident: incident, Created: true}
			return e.emitRecorded(ctx, tx, incident, signature, false)
		}

		if err := e.incidents.TouchDetectedAt(ctx, tx, existing.ID, e.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh deduplicated incident")
		}
		result = ReportResult{Incident: existing, Created: false}
		return e.emitRecorded(ctx, tx, existing, signature, true)
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		e.metrics.IncIncidentRecorded(string(report.SourceType))
	} else {
		e.metrics.IncIncidentDeduplicated()
	}

	logCtx := e.logg.WithIncidentID(ctx, result.Incident.ID.String())
	if result.Created {
		e.logg.Info(logCtx, "incident recorded")
	} else {
		e.logg.Info(logCtx, "incident report deduplicated")
	}
	return &result, nil
}

func (e *Engine) buildIncident(report Report, title string) *models.SystemIncident {
	metadata := dbtypes.JSONMap{}
	for k, v := range report.Metadata {
		metadata[k] = v
	}
	var signature *string
	if trimmed := strings.TrimSpace(report.UniqueSignature); trimmed != "" {
		signature = &trimmed
		metadata[models.IncidentMetaSignature] = trimmed
	}
	var message *string
	if trimmed := strings.TrimSpace(report.Message); trimmed != "" {
		message = &trimmed
	}
	var sourceID *string
	if trimmed := strings.TrimSpace(report.SourceID); trimmed != "" {
		sourceID = &trimmed
	}
	return &models.SystemIncident{
		ID:              uuid.New(),
		SourceType:      report.SourceType,
		SourceID:        sourceID,
		TenantID:        report.TenantID,
		Severity:        report.Severity,
		Title:           title,
		Message:         message,
		UniqueSignature: signature,
		Metadata:        metadata,
		Retryable:       report.Retryable,
		RequiresSupport: report.RequiresSupport,
		DetectedAt:      e.now().UTC(),
	}
}

func (e *Engine) emitRecorded(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident, signature string, duplicate bool) error {
	sourceID := uuid.Nil
	if incident.SourceID != nil {
		if parsed, err := uuid.Parse(*incident.SourceID); err == nil {
			sourceID = parsed
		}
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventIncidentRecorded,
		AggregateType: enums.AggregateIncident,
		AggregateID:   incident.ID,
		Version:       1,
		Data: payloads.IncidentRecordedEvent{
			IncidentID: incident.ID,
			SourceType: incident.SourceType,
			SourceID:   sourceID,
			Severity:   incident.Severity,
			Signature:  signature,
			Duplicate:  duplicate,
		},
	})
}

// AttemptRecovery runs the source-specific repair strategy. Asset-sourced
// incidents go through the reconciliation engine; a repair that produced
// changes resolves the incident with auto_resolved=true. Every attempt,
// successful or not, bumps the repair counter in the incident metadata.
// Tenants whose plan excludes auto-repair skip the attempt entirely.
func (e *Engine) AttemptRecovery(ctx context.Context, incident *models.SystemIncident) (*RecoveryResult, error) {
	if incident == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "incident required")
	}
	if incident.Resolved() {
		return &RecoveryResult{Resolved: true}, nil
	}

	if e.plans != nil && incident.TenantID != nil {
		allowed, err := e.plans.Allows(ctx, *incident.TenantID, enums.FeatureAutoRepair)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check plan features")
		}
		if !allowed {
			logCtx := e.logg.WithIncidentID(ctx, incident.ID.String())
			e.logg.Info(logCtx, "auto-repair not included in plan")
			return &RecoveryResult{}, nil
		}
	}

	recovery := &RecoveryResult{}
	if assetKeyedSource(incident.SourceType) && incident.SourceID != nil {
		assetID, err := uuid.Parse(*incident.SourceID)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset incident has non-uuid source_id")
		}
		result, err := e.repairer.Reconcile(ctx, assetID)
		if err != nil {
			return nil, err
		}
		recovery.Changes = result.Changes
		recovery.Resolved = result.Updated
	}

	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		metadata := incident.Metadata
		if metadata == nil {
			metadata = dbtypes.JSONMap{}
		}
		metadata[models.IncidentMetaRepairAttempts] = incident.RepairAttempts() + 1
		if err := e.incidents.UpdateMetadata(ctx, tx, incident.ID, metadata); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record repair attempt")
		}
		incident.Metadata = metadata
		if !recovery.Resolved {
			return nil
		}
		return e.incidents.MarkResolved(ctx, tx, incident.ID, true, e.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	if recovery.Resolved {
		resolvedAt := e.now().UTC()
		incident.ResolvedAt = &resolvedAt
		incident.AutoResolved = true
		logCtx := e.logg.WithIncidentID(ctx, incident.ID.String())
		e.logg.Info(logCtx, "incident auto-resolved by repair")
	}
	return recovery, nil
}

// assetKeyedSource reports whether incidents of this source carry an asset id
// in source_id, making them repairable through state reconciliation.
func assetKeyedSource(source enums.IncidentSource) bool {
	switch source {
	case enums.SourceAsset, enums.SourceDerivative, enums.SourceUpload, enums.SourceDownload:
		return true
	default:
		return false
	}
}

// FlagRequiresSupport marks an open incident as needing a human. Callers use
// it when the same condition keeps firing across detection cycles.
func (e *Engine) FlagRequiresSupport(ctx context.Context, incident *models.SystemIncident) error {
	if incident == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "incident required")
	}
	if incident.RequiresSupport || incident.Resolved() {
		return nil
	}
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.incidents.MarkRequiresSupport(ctx, tx, incident.ID)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag incident for support")
	}
	incident.RequiresSupport = true
	logCtx := e.logg.WithIncidentID(ctx, incident.ID.String())
	e.logg.Info(logCtx, "incident flagged for support")
	return nil
}

// Resolve closes the incident. auto records whether a machine or a human
// closed it.
func (e *Engine) Resolve(ctx context.Context, incidentID uuid.UUID, auto bool) error {
	if incidentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "incident_id required")
	}
	return e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.incidents.MarkResolved(ctx, tx, incidentID, auto, e.now().UTC())
	})
}

// EscalationEligible reports whether the incident should be handed to the
// escalation service: requires_support set at creation, or a failed repair
// with the source's failure counter at or past the threshold.
func (e *Engine) EscalationEligible(incident *models.SystemIncident, repairFailed bool, failureCount int) bool {
	if incident == nil || incident.Resolved() {
		return false
	}
	if incident.RequiresSupport {
		return true
	}
	return repairFailed && failureCount >= e.threshold
}
