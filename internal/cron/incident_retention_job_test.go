package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

type fakeIncidentRetentionRepo struct {
	lastCutoff     time.Time
	lastResolvedAt time.Time
	called         int
	counted        int
	open           int64
	err            error
}

func (f *fakeIncidentRetentionRepo) ResolveAbandonedBefore(ctx context.Context, cutoff time.Time, resolvedAt time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.lastResolvedAt = resolvedAt
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakeIncidentRetentionRepo) CountUnresolved(ctx context.Context, tenantID *uuid.UUID) (int64, error) {
	f.counted++
	return f.open, nil
}

func newIncidentRetentionJob(t *testing.T, repo *fakeIncidentRetentionRepo) *incidentRetentionJob {
	t.Helper()
	jobIface, err := NewIncidentRetentionJob(IncidentRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("NewIncidentRetentionJob: %v", err)
	}
	job, ok := jobIface.(*incidentRetentionJob)
	if !ok {
		t.Fatalf("expected incidentRetentionJob, got %T", jobIface)
	}
	return job
}

func TestIncidentRetentionJobResolvesWithDefaultWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeIncidentRetentionRepo{open: 7}
	job := newIncidentRetentionJob(t, repo)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expected := now.Add(-incidentRetentionDays * 24 * time.Hour)
	if !repo.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, repo.lastCutoff)
	}
	if !repo.lastResolvedAt.Equal(now) {
		t.Fatalf("expected resolution stamped at %s, got %s", now, repo.lastResolvedAt)
	}
	if repo.called != 1 {
		t.Fatalf("expected sweep called once, got %d", repo.called)
	}
	if repo.counted != 1 {
		t.Fatalf("expected open-incident count taken once, got %d", repo.counted)
	}
}

func TestIncidentRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeIncidentRetentionRepo{err: errors.New("boom")}
	job := newIncidentRetentionJob(t, repo)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
