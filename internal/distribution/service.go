package distribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type downloadRepository interface {
	RecordFailure(ctx context.Context, tx *gorm.DB, download *models.Download) (*models.Download, error)
	SetEscalationTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID, ticketID uuid.UUID) error
}

type assetFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

type incidentReporter interface {
	Report(ctx context.Context, report reliability.Report) (*reliability.ReportResult, error)
}

type ticketCreator interface {
	CreateTicketIfNeeded(ctx context.Context, target escalation.Target, incident *models.SystemIncident, aiSummary *string) escalation.CreateResult
}

// Service ingests delivery failure reports from the distribution edge. Each
// report bumps the asset's download counter, records a deduplicated incident
// and hands the failure to the escalation gate.
type Service struct {
	db        dbClient
	downloads downloadRepository
	assets    assetFinder
	reports   incidentReporter
	escalator ticketCreator
	logg      *logger.Logger
	now       func() time.Time
}

// ServiceParams carries the service dependencies.
type ServiceParams struct {
	DB        dbClient
	Downloads downloadRepository
	Assets    assetFinder
	Reports   incidentReporter
	Escalator ticketCreator
	Logger    *logger.Logger
}

// NewService constructs the distribution service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Downloads == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "download repository required")
	}
	if params.Assets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset finder required")
	}
	if params.Reports == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "incident reporter required")
	}
	if params.Escalator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "escalation service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &Service{
		db:        params.DB,
		downloads: params.Downloads,
		assets:    params.Assets,
		reports:   params.Reports,
		escalator: params.Escalator,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

// FailureInput is one delivery failure observed at the edge.
type FailureInput struct {
	AssetID  uuid.UUID
	TenantID uuid.UUID
	Reason   enums.FailureReason
	Detail   string
}

// ReportFailure records the delivery failure against the asset's download
// row, reports the incident and escalates once the counter crosses the
// threshold. Escalation errors are swallowed: the failure record stands
// either way.
func (s *Service) ReportFailure(ctx context.Context, input FailureInput) (*models.Download, error) {
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset_id required")
	}
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id required")
	}
	if !input.Reason.ForDownload() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is not a delivery failure")
	}

	asset, err := s.assets.FindByID(ctx, input.AssetID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "asset not found")
	}
	if asset.TenantID != input.TenantID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "asset belongs to another tenant")
	}

	var download *models.Download
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		download, err = s.downloads.RecordFailure(ctx, tx, &models.Download{
			TenantID: asset.TenantID,
			AssetID:  asset.ID,
			FailureTracking: models.FailureTracking{
				FailureReason: input.Reason,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery failure")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	severity := enums.SeverityWarning
	if !input.Reason.Retryable() {
		severity = enums.SeverityError
	}
	report, err := s.reports.Report(ctx, reliability.Report{
		SourceType:      enums.SourceDownload,
		SourceID:        asset.ID.String(),
		TenantID:        &asset.TenantID,
		Severity:        severity,
		Title:           "asset delivery failing",
		Message:         fmt.Sprintf("download of asset %s failed: %s", asset.ID, input.Reason),
		Retryable:       input.Reason.Retryable(),
		UniqueSignature: fmt.Sprintf("download_failure:%s:%s", asset.ID, input.Reason),
		Metadata: dbtypes.JSONMap{
			"reason":        string(input.Reason),
			"detail":        input.Detail,
			"failure_count": download.FailureCount,
		},
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithAssetID(s.logg.WithTenantID(ctx, asset.TenantID.String()), asset.ID.String())

	downloadID := download.ID
	result := s.escalator.CreateTicketIfNeeded(ctx, escalation.Target{
		SourceType: enums.SourceDownload,
		SourceID:   asset.ID.String(),
		TenantID:   &asset.TenantID,
		Failure:    download.FailureTracking,
		Subject:    fmt.Sprintf("asset %s failing to deliver (%s)", asset.ID, input.Reason),
		LinkTicket: func(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID) error {
			return s.downloads.SetEscalationTicket(ctx, tx, downloadID, ticketID)
		},
	}, report.Incident, nil)
	if result.Err != nil {
		// Already logged by the escalation service.
		s.logg.Warn(logCtx, "delivery escalation attempt failed")
	} else if result.Created {
		download.EscalationTicketID = &result.Ticket.ID
		s.logg.Info(logCtx, "delivery failure escalated")
	}

	s.logg.Info(logCtx, "delivery failure recorded")
	return download, nil
}
