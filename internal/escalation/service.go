package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ticketRepository interface {
	Create(ctx context.Context, tx *gorm.DB, ticket *models.Ticket) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	FindOpenByIncident(ctx context.Context, incidentID uuid.UUID) (*models.Ticket, error)
	MarkResolved(ctx context.Context, tx *gorm.DB, id uuid.UUID, resolvedAt time.Time) error
}

type incidentRepository interface {
	UpdateMetadata(ctx context.Context, tx *gorm.DB, id uuid.UUID, metadata dbtypes.JSONMap) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Target describes the failing entity a ticket is cut for. LinkTicket writes
// the entity's escalation_ticket_id inside the same transaction so the ticket
// and the link commit or roll back together.
type Target struct {
	SourceType enums.IncidentSource
	SourceID   string
	TenantID   *uuid.UUID
	Failure    models.FailureTracking
	Subject    string
	Body       string
	LinkTicket func(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID) error
}

// CreateResult reports the outcome of CreateTicketIfNeeded. Err is carried
// here instead of the return signature: escalation failures must never break
// the job that triggered them.
type CreateResult struct {
	Created bool
	Ticket  *models.Ticket
	Err     error
}

// Service owns ticket creation. It is the only writer of the tickets table.
type Service struct {
	db        dbClient
	tickets   ticketRepository
	incidents incidentRepository
	outbox    outboxEmitter
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	threshold int
	now       func() time.Time
}

// ServiceParams carries the service dependencies.
type ServiceParams struct {
	DB               dbClient
	Tickets          ticketRepository
	Incidents        incidentRepository
	Outbox           outboxEmitter
	Metrics          *metrics.PipelineMetrics
	Logger           *logger.Logger
	FailureThreshold int
}

// NewService constructs the escalation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database client required")
	}
	if params.Tickets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket repository required")
	}
	if params.Incidents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "incident repository required")
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
	return &Service{
		db:        params.DB,
		tickets:   params.Tickets,
		incidents: params.Incidents,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		threshold: threshold,
		now:       time.Now,
	}, nil
}

// CreateTicketIfNeeded cuts a support ticket for the target when its failure
// counter has reached the threshold, or returns the ticket already attached.
// Below the threshold it is a no-op. Any failure is logged and reported in
// the result, never propagated: callers run inside stage jobs and triage
// handlers that must not fail because escalation did.
func (s *Service) CreateTicketIfNeeded(ctx context.Context, target Target, incident *models.SystemIncident, aiSummary *string) CreateResult {
	if target.Failure.HasTicket() {
		existing, err := s.tickets.FindByID(ctx, *target.Failure.EscalationTicketID)
		if err != nil {
			return s.failed(ctx, target, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing ticket"))
		}
		return CreateResult{Created: false, Ticket: existing}
	}
	if target.Failure.FailureCount < s.threshold {
		return CreateResult{Created: false}
	}

	ticket, created, err := s.createTicket(ctx, target, incident, aiSummary)
	if err != nil {
		return s.failed(ctx, target, err)
	}
	if created {
		s.metrics.IncEscalationTicket()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"ticket_id":   ticket.ID.String(),
			"source_type": target.SourceType,
			"source_id":   target.SourceID,
		})
		s.logg.Info(logCtx, "escalation ticket created")
	}
	return CreateResult{Created: created, Ticket: ticket}
}

// CreateTicket cuts a ticket for the incident unconditionally, once. A second
// call returns the open ticket already bound to the incident.
func (s *Service) CreateTicket(ctx context.Context, target Target, incident *models.SystemIncident, aiSummary *string) (*models.Ticket, error) {
	ticket, _, err := s.createTicket(ctx, target, incident, aiSummary)
	return ticket, err
}

func (s *Service) createTicket(ctx context.Context, target Target, incident *models.SystemIncident, aiSummary *string) (*models.Ticket, bool, error) {
	if !target.SourceType.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid source_type")
	}

	// Idempotency: an incident escalates at most once while open. The
	// metadata pointer is the fast path, the open-ticket lookup catches
	// rows written before the pointer committed.
	if incident != nil {
		if ticketID := incident.Metadata.String(models.IncidentMetaTicketID); ticketID != "" {
			if parsed, err := uuid.Parse(ticketID); err == nil {
				existing, err := s.tickets.FindByID(ctx, parsed)
				if err == nil {
					return existing, false, nil
				}
			}
		}
		existing, err := s.tickets.FindOpenByIncident(ctx, incident.ID)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup open ticket")
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	ticket := s.buildTicket(target, incident, aiSummary)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.tickets.Create(ctx, tx, ticket); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ticket")
		}
		if target.LinkTicket != nil {
			if err := target.LinkTicket(ctx, tx, ticket.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link ticket to source")
			}
		}
		if incident == nil {
			return nil
		}
		metadata := incident.Metadata
		if metadata == nil {
			metadata = dbtypes.JSONMap{}
		}
		metadata[models.IncidentMetaTicketID] = ticket.ID.String()
		if err := s.incidents.UpdateMetadata(ctx, tx, incident.ID, metadata); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind ticket to incident")
		}
		incident.Metadata = metadata
		return s.emitEscalated(ctx, tx, incident, ticket, target)
	})
	if err != nil {
		return nil, false, err
	}
	return ticket, true, nil
}

func (s *Service) buildTicket(target Target, incident *models.SystemIncident, aiSummary *string) *models.Ticket {
	subject := strings.TrimSpace(target.Subject)
	if subject == "" {
		subject = fmt.Sprintf("%s %s failed %d times", target.SourceType, target.SourceID, target.Failure.FailureCount)
	}
	body := strings.TrimSpace(target.Body)
	if body == "" {
		body = fmt.Sprintf("failure_reason=%s failure_count=%d", target.Failure.FailureReason, target.Failure.FailureCount)
	}
	var sourceID *string
	if trimmed := strings.TrimSpace(target.SourceID); trimmed != "" {
		sourceID = &trimmed
	}
	var summary *string
	if aiSummary != nil {
		if trimmed := strings.TrimSpace(*aiSummary); trimmed != "" {
			summary = &trimmed
		}
	}
	ticket := &models.Ticket{
		ID:         uuid.New(),
		TenantID:   target.TenantID,
		SourceType: target.SourceType,
		SourceID:   sourceID,
		Subject:    subject,
		Body:       body,
		Status:     enums.TicketOpen,
		AISummary:  summary,
		CreatedAt:  s.now().UTC(),
	}
	if incident != nil {
		incidentID := incident.ID
		ticket.IncidentID = &incidentID
	}
	return ticket
}

func (s *Service) emitEscalated(ctx context.Context, tx *gorm.DB, incident *models.SystemIncident, ticket *models.Ticket, target Target) error {
	sourceID := uuid.Nil
	if parsed, err := uuid.Parse(target.SourceID); err == nil {
		sourceID = parsed
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventIncidentEscalated,
		AggregateType: enums.AggregateIncident,
		AggregateID:   incident.ID,
		Version:       1,
		Data: payloads.IncidentEscalatedEvent{
			IncidentID:   incident.ID,
			TicketID:     ticket.ID,
			SourceType:   target.SourceType,
			SourceID:     sourceID,
			FailureCount: target.Failure.FailureCount,
		},
	})
}

func (s *Service) failed(ctx context.Context, target Target, err error) CreateResult {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"source_type": target.SourceType,
		"source_id":   target.SourceID,
	})
	s.logg.Error(logCtx, "escalation failed", err)
	return CreateResult{Created: false, Err: err}
}

// ResolveTicket closes an open ticket.
func (s *Service) ResolveTicket(ctx context.Context, ticketID uuid.UUID) error {
	if ticketID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ticket_id required")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.tickets.MarkResolved(ctx, tx, ticketID, s.now().UTC())
	})
}
