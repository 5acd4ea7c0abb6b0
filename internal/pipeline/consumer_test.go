package pipeline

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
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

type fakeHandler struct {
	calls []enums.Stage
	err   error
}

func (f *fakeHandler) HandleStage(ctx context.Context, assetID uuid.UUID, stage enums.Stage) error {
	f.calls = append(f.calls, stage)
	return f.err
}

type fakeIdempotency struct {
	seen    map[string]bool
	deleted []string
}

func (f *fakeIdempotency) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := consumer + ":" + eventID.String()
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	f.deleted = append(f.deleted, eventID.String())
	return nil
}

func newTestConsumer(t *testing.T, handler *fakeHandler, manager *fakeIdempotency) *Consumer {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "pipeline-test", Output: io.Discard})
	consumer, err := NewConsumer(handler, manager, logg)
	if err != nil {
		t.Fatalf("build consumer: %v", err)
	}
	return consumer
}

func envelopeFor(t *testing.T, payload any) outbox.PayloadEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

func TestConsumerUploadStartsFirstStage(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newTestConsumer(t, handler, &fakeIdempotency{})

	envelope := envelopeFor(t, payloads.AssetUploadedEvent{
		AssetID:    uuid.New(),
		TenantID:   uuid.New(),
		StorageKey: "tenants/t1/logo.png",
	})
	if err := consumer.Process(context.Background(), enums.EventAssetUploaded, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(handler.calls) != 1 || handler.calls[0] != enums.StageThumbnail {
		t.Fatalf("expected thumbnail stage dispatched, got %v", handler.calls)
	}
}

func TestConsumerChainsToNextStage(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newTestConsumer(t, handler, &fakeIdempotency{})

	envelope := envelopeFor(t, payloads.StageCompletedEvent{
		AssetID:  uuid.New(),
		TenantID: uuid.New(),
		Stage:    enums.StageMetadata,
	})
	if err := consumer.Process(context.Background(), enums.EventStageCompleted, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(handler.calls) != 1 || handler.calls[0] != enums.StageTagging {
		t.Fatalf("expected tagging stage after metadata, got %v", handler.calls)
	}
}

func TestConsumerStopsAfterLastStage(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newTestConsumer(t, handler, &fakeIdempotency{})

	envelope := envelopeFor(t, payloads.StageCompletedEvent{
		AssetID: uuid.New(),
		Stage:   enums.StagePromotion,
	})
	if err := consumer.Process(context.Background(), enums.EventStageCompleted, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(handler.calls) != 0 {
		t.Fatalf("expected no dispatch past the final stage, got %v", handler.calls)
	}
}

func TestConsumerIgnoresOtherEvents(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newTestConsumer(t, handler, &fakeIdempotency{})

	envelope := envelopeFor(t, payloads.StageFailedEvent{AssetID: uuid.New()})
	if err := consumer.Process(context.Background(), enums.EventStageFailed, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(handler.calls) != 0 {
		t.Fatal("stage_failed belongs to the triage consumer")
	}
}

func TestConsumerIsIdempotent(t *testing.T) {
	handler := &fakeHandler{}
	consumer := newTestConsumer(t, handler, &fakeIdempotency{})

	envelope := envelopeFor(t, payloads.AssetUploadedEvent{AssetID: uuid.New()})
	for i := 0; i < 2; i++ {
		if err := consumer.Process(context.Background(), enums.EventAssetUploaded, envelope); err != nil {
			t.Fatalf("Process() error: %v", err)
		}
	}
	if len(handler.calls) != 1 {
		t.Fatalf("expected a single dispatch for a redelivered event, got %d", len(handler.calls))
	}
}

func TestConsumerReleasesIdempotencyKeyOnFailure(t *testing.T) {
	handler := &fakeHandler{err: errors.New("db down")}
	manager := &fakeIdempotency{}
	consumer := newTestConsumer(t, handler, manager)

	envelope := envelopeFor(t, payloads.AssetUploadedEvent{AssetID: uuid.New()})
	if err := consumer.Process(context.Background(), enums.EventAssetUploaded, envelope); err == nil {
		t.Fatal("expected the handler error propagated")
	}
	if len(manager.deleted) != 1 {
		t.Fatal("expected the idempotency key released for redelivery")
	}
}
