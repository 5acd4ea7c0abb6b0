package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

const (
	escalationUnlinkDays  = 30
	escalationUnlinkBatch = 200
)

type escalatedFailureRepo interface {
	ListEscalatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AssetDerivativeFailure, error)
	ClearEscalationTicket(ctx context.Context, id uuid.UUID) error
}

type ticketFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
}

// EscalationUnlinkJobParams configures the resolved-escalation unlink sweep.
type EscalationUnlinkJobParams struct {
	Logger    *logger.Logger
	Failures  escalatedFailureRepo
	Tickets   ticketFinder
	Retention int
	BatchSize int
}

// NewEscalationUnlinkJob constructs the sweep that detaches aged failure
// rows from resolved tickets. A linked ticket suppresses re-escalation; once
// the ticket is resolved and the dust settles, the row must count failures
// from zero again.
func NewEscalationUnlinkJob(params EscalationUnlinkJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Failures == nil {
		return nil, fmt.Errorf("failure repository required")
	}
	if params.Tickets == nil {
		return nil, fmt.Errorf("ticket repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = escalationUnlinkDays
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = escalationUnlinkBatch
	}
	return &escalationUnlinkJob{
		logg:      params.Logger,
		failures:  params.Failures,
		tickets:   params.Tickets,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type escalationUnlinkJob struct {
	logg      *logger.Logger
	failures  escalatedFailureRepo
	tickets   ticketFinder
	retention int
	batch     int
	now       func() time.Time
}

func (j *escalationUnlinkJob) Name() string { return "escalation-unlink" }

func (j *escalationUnlinkJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)

	rows, err := j.failures.ListEscalatedBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list escalated failures: %w", err)
	}

	var errs error
	var unlinked, stillOpen int
	for _, row := range rows {
		if row.EscalationTicketID == nil {
			continue
		}
		ticket, err := j.tickets.FindByID(ctx, *row.EscalationTicketID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Dangling pointer; detach so the row can escalate again.
				if err := j.failures.ClearEscalationTicket(ctx, row.ID); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("failure %s: %w", row.ID, err))
					continue
				}
				unlinked++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("ticket %s: %w", row.EscalationTicketID, err))
			continue
		}
		if ticket.Status != enums.TicketResolved {
			stillOpen++
			continue
		}
		if err := j.failures.ClearEscalationTicket(ctx, row.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failure %s: %w", row.ID, err))
			continue
		}
		unlinked++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_examined":  len(rows),
		"rows_unlinked":  unlinked,
		"tickets_open":   stillOpen,
	})
	j.logg.Info(logCtx, "escalation unlink sweep complete")
	return errs
}
