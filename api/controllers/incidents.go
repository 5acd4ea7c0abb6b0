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
	"github.com/mateovidal/brandvault-backend/internal/incidents"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/pagination"
)

// IncidentReader is the read surface of the incident store the admin API
// needs.
type IncidentReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.SystemIncident, error)
	List(ctx context.Context, filter incidents.ListFilter, params pagination.Params) ([]models.SystemIncident, string, error)
}

// ReliabilityEngine is the slice of the reliability engine the incident
// controllers drive.
type ReliabilityEngine interface {
	AttemptRecovery(ctx context.Context, incident *models.SystemIncident) (*reliability.RecoveryResult, error)
	Resolve(ctx context.Context, incidentID uuid.UUID, auto bool) error
}

type incidentView struct {
	ID              uuid.UUID              `json:"id"`
	SourceType      enums.IncidentSource   `json:"source_type"`
	SourceID        *string                `json:"source_id,omitempty"`
	TenantID        *uuid.UUID             `json:"tenant_id,omitempty"`
	Severity        enums.IncidentSeverity `json:"severity"`
	Title           string                 `json:"title"`
	Message         *string                `json:"message,omitempty"`
	Metadata        dbtypes.JSONMap        `json:"metadata,omitempty"`
	Retryable       bool                   `json:"retryable"`
	RequiresSupport bool                   `json:"requires_support"`
	AutoResolved    bool                   `json:"auto_resolved"`
	DetectedAt      time.Time              `json:"detected_at"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
}

func toIncidentView(incident *models.SystemIncident) incidentView {
	return incidentView{
		ID:              incident.ID,
		SourceType:      incident.SourceType,
		SourceID:        incident.SourceID,
		TenantID:        incident.TenantID,
		Severity:        incident.Severity,
		Title:           incident.Title,
		Message:         incident.Message,
		Metadata:        incident.Metadata,
		Retryable:       incident.Retryable,
		RequiresSupport: incident.RequiresSupport,
		AutoResolved:    incident.AutoResolved,
		DetectedAt:      incident.DetectedAt,
		ResolvedAt:      incident.ResolvedAt,
	}
}

// IncidentList serves the admin incident feed, critical first, newest first
// within a severity.
func IncidentList(repo IncidentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "incident store unavailable"))
			return
		}

		filter, err := incidentFilterFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}

		rows, next, err := repo.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]incidentView, 0, len(rows))
		for i := range rows {
			views = append(views, toIncidentView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"incidents": views, "next_cursor": next})
	}
}

func incidentFilterFromQuery(r *http.Request) (incidents.ListFilter, error) {
	filter := incidents.ListFilter{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("severity")); raw != "" {
		severity, err := enums.ParseIncidentSeverity(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid severity")
		}
		filter.Severity = &severity
	}
	if raw := strings.TrimSpace(query.Get("source_type")); raw != "" {
		source, err := enums.ParseIncidentSource(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source_type")
		}
		filter.SourceType = &source
	}
	if raw := strings.TrimSpace(query.Get("tenant_id")); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id")
		}
		filter.TenantID = &tenantID
	}
	filter.Unresolved = strings.EqualFold(strings.TrimSpace(query.Get("unresolved")), "true")
	return filter, nil
}

// IncidentDetail returns one incident by id.
func IncidentDetail(repo IncidentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "incident store unavailable"))
			return
		}

		incident, err := findIncident(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toIncidentView(incident))
	}
}

// IncidentResolve closes an incident by operator action.
func IncidentResolve(engine ReliabilityEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reliability engine unavailable"))
			return
		}

		id, err := incidentIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := engine.Resolve(r.Context(), id, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"incident_id": id, "resolved": true})
	}
}

// IncidentRecover runs one reconciliation pass for the incident's asset and
// reports whether the incident auto-resolved.
func IncidentRecover(repo IncidentReader, engine ReliabilityEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reliability engine unavailable"))
			return
		}

		incident, err := findIncident(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := engine.AttemptRecovery(r.Context(), incident)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"incident_id": incident.ID,
			"resolved":    result.Resolved,
			"changes":     result.Changes,
		})
	}
}

func incidentIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "incidentId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid incident id")
	}
	return id, nil
}

func findIncident(r *http.Request, repo IncidentReader) (*models.SystemIncident, error) {
	id, err := incidentIDFromPath(r)
	if err != nil {
		return nil, err
	}
	incident, err := repo.FindByID(r.Context(), id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "incident not found")
	}
	return incident, nil
}
