package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
)

type fakeInserter struct {
	rows []any
	err  error
}

func (f *fakeInserter) InsertRows(ctx context.Context, table string, rows []any) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeIdempotency struct {
	check    func(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	deleteFn func(ctx context.Context, consumer string, eventID uuid.UUID) error
}

func (f fakeIdempotency) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	return f.check(ctx, consumer, eventID)
}

func (f fakeIdempotency) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return f.deleteFn(ctx, consumer, eventID)
}

func mustConsumer(t *testing.T, inserter *fakeInserter, manager fakeIdempotency) *Consumer {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "audit-test", Output: io.Discard})
	consumer, err := NewConsumer(inserter, "activity_events", manager, logg)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return consumer
}

func buildEnvelope(t *testing.T, eventID uuid.UUID, payload map[string]any) outbox.PayloadEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       data,
	}
}

func passthroughIdempotency() fakeIdempotency {
	return fakeIdempotency{
		check: func(context.Context, string, uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(context.Context, string, uuid.UUID) error {
			return nil
		},
	}
}

func TestAuditConsumerIngestsIncidentRecorded(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, passthroughIdempotency())

	incidentID := uuid.New()
	envelope := buildEnvelope(t, uuid.New(), map[string]any{
		"incident_id": incidentID.String(),
		"severity":    "critical",
		"signature":   "stage_failure:a:thumbnail",
	})
	if err := consumer.Process(context.Background(), enums.EventIncidentRecorded, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(inserter.rows) != 1 {
		t.Fatalf("expected 1 row inserted, got %d", len(inserter.rows))
	}
	row, ok := inserter.rows[0].(*activityEventRow)
	if !ok {
		t.Fatalf("expected activityEventRow, got %T", inserter.rows[0])
	}
	if row.EventType != string(enums.EventIncidentRecorded) {
		t.Fatalf("unexpected event type %s", row.EventType)
	}
	if row.IncidentID == nil || *row.IncidentID != incidentID.String() {
		t.Fatal("incident id mismatch")
	}
	if row.Severity == nil || *row.Severity != "critical" {
		t.Fatal("severity mismatch")
	}
	if !row.Payload.Valid {
		t.Fatal("payload should be valid json")
	}
}

func TestAuditConsumerSkipsUnknownEvents(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, passthroughIdempotency())

	envelope := buildEnvelope(t, uuid.New(), map[string]any{})
	if err := consumer.Process(context.Background(), enums.OutboxEventType("legacy_event"), envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatal("expected unknown events dropped")
	}
}

func TestAuditConsumerIsIdempotent(t *testing.T) {
	inserter := &fakeInserter{}
	manager := fakeIdempotency{
		check: func(context.Context, string, uuid.UUID) (bool, error) {
			return true, nil
		},
		deleteFn: func(context.Context, string, uuid.UUID) error {
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.New(), map[string]any{})
	if err := consumer.Process(context.Background(), enums.EventStageFailed, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatal("expected no insert on replay")
	}
}

func TestAuditConsumerReleasesKeyOnInsertFailure(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("bigquery down")}
	deleted := false
	manager := fakeIdempotency{
		check: func(context.Context, string, uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(context.Context, string, uuid.UUID) error {
			deleted = true
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.New(), map[string]any{"asset_id": uuid.NewString()})
	if err := consumer.Process(context.Background(), enums.EventStageCompleted, envelope); err == nil {
		t.Fatal("expected error when insert fails")
	}
	if !deleted {
		t.Fatal("expected idempotency key released for redelivery")
	}
}
