package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
)

const incidentRetentionDays = 30

type incidentRetentionRepo interface {
	ResolveAbandonedBefore(ctx context.Context, cutoff time.Time, resolvedAt time.Time) (int64, error)
	CountUnresolved(ctx context.Context, tenantID *uuid.UUID) (int64, error)
}

// IncidentRetentionJobParams configures the abandoned-incident sweep.
type IncidentRetentionJobParams struct {
	Logger     *logger.Logger
	Repository incidentRetentionRepo
	Metrics    *metrics.PipelineMetrics
	Retention  int
}

// NewIncidentRetentionJob constructs the sweep that auto-resolves ancient
// open warnings nobody is acting on. Incident rows are never deleted, and
// error or critical incidents stay open until a human or a repair closes
// them.
func NewIncidentRetentionJob(params IncidentRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("incident repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = incidentRetentionDays
	}
	return &incidentRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		metrics:   params.Metrics,
		retention: retention,
		now:       time.Now,
	}, nil
}

type incidentRetentionJob struct {
	logg      *logger.Logger
	repo      incidentRetentionRepo
	metrics   *metrics.PipelineMetrics
	retention int
	now       func() time.Time
}

func (j *incidentRetentionJob) Name() string { return "incident-retention" }

func (j *incidentRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-time.Duration(j.retention) * 24 * time.Hour)
	resolved, err := j.repo.ResolveAbandonedBefore(ctx, cutoff, now)
	if err != nil {
		return fmt.Errorf("incident retention: %w", err)
	}

	open, err := j.repo.CountUnresolved(ctx, nil)
	if err != nil {
		return fmt.Errorf("count open incidents: %w", err)
	}
	j.metrics.SetOpenIncidents(open)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_resolved":  resolved,
		"open_incidents": open,
	})
	j.logg.Info(logCtx, "incident retention sweep complete")
	return nil
}
