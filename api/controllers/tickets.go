package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/api/responses"
	"github.com/mateovidal/brandvault-backend/api/validators"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/pagination"
)

// TicketReader is the read surface of the ticket store the admin API needs.
type TicketReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	List(ctx context.Context, status *enums.TicketStatus, params pagination.Params) ([]models.Ticket, string, error)
}

// TicketResolver closes tickets.
type TicketResolver interface {
	ResolveTicket(ctx context.Context, ticketID uuid.UUID) error
}

type ticketView struct {
	ID         uuid.UUID            `json:"id"`
	TenantID   *uuid.UUID           `json:"tenant_id,omitempty"`
	SourceType enums.IncidentSource `json:"source_type"`
	SourceID   *string              `json:"source_id,omitempty"`
	IncidentID *uuid.UUID           `json:"incident_id,omitempty"`
	Subject    string               `json:"subject"`
	Body       string               `json:"body"`
	Status     enums.TicketStatus   `json:"status"`
	AISummary  *string              `json:"ai_summary,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
}

func toTicketView(ticket *models.Ticket) ticketView {
	return ticketView{
		ID:         ticket.ID,
		TenantID:   ticket.TenantID,
		SourceType: ticket.SourceType,
		SourceID:   ticket.SourceID,
		IncidentID: ticket.IncidentID,
		Subject:    ticket.Subject,
		Body:       ticket.Body,
		Status:     ticket.Status,
		AISummary:  ticket.AISummary,
		CreatedAt:  ticket.CreatedAt,
		ResolvedAt: ticket.ResolvedAt,
	}
}

// TicketList serves the support queue, newest first.
func TicketList(repo TicketReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket store unavailable"))
			return
		}

		var status *enums.TicketStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseTicketStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}

		rows, next, err := repo.List(r.Context(), status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]ticketView, 0, len(rows))
		for i := range rows {
			views = append(views, toTicketView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"tickets": views, "next_cursor": next})
	}
}

// TicketDetail returns one ticket by id.
func TicketDetail(repo TicketReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket store unavailable"))
			return
		}

		id, err := ticketIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ticket, err := repo.FindByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "ticket not found"))
			return
		}
		responses.WriteSuccess(w, toTicketView(ticket))
	}
}

// TicketResolve closes a ticket after the operator has handled it.
func TicketResolve(svc TicketResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escalation service unavailable"))
			return
		}

		id, err := ticketIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ResolveTicket(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"ticket_id": id, "resolved": true})
	}
}

func ticketIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "ticketId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ticket id")
	}
	return id, nil
}
