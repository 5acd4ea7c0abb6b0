package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

const pipelineConsumerName = "pipeline"

type stageHandler interface {
	HandleStage(ctx context.Context, assetID uuid.UUID, stage enums.Stage) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer chains pipeline stages per asset: an upload kicks off the first
// stage, each completion enqueues the next. Ordering holds per asset only.
type Consumer struct {
	handler stageHandler
	manager idempotencyChecker
	logg    *logger.Logger
}

// NewConsumer builds the pipeline consumer.
func NewConsumer(handler stageHandler, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("stage handler required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{handler: handler, manager: manager, logg: logg}, nil
}

// Process handles one outbox envelope from the pipeline subscription.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	var assetID uuid.UUID
	var stage enums.Stage
	switch eventType {
	case enums.EventAssetUploaded:
		var event payloads.AssetUploadedEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			c.logg.Error(logCtx, "failed to decode upload event", err)
			return nil
		}
		assetID = event.AssetID
		stage = enums.PipelineStages[0]
	case enums.EventStageCompleted:
		var event payloads.StageCompletedEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			c.logg.Error(logCtx, "failed to decode completion event", err)
			return nil
		}
		next := event.Stage.Next()
		if next == "" {
			c.logg.Info(logCtx, "pipeline finished for asset")
			return nil
		}
		assetID = event.AssetID
		stage = next
	default:
		c.logg.Info(logCtx, "event not handled by pipeline consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, pipelineConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.handler.HandleStage(ctx, assetID, stage); err != nil {
		_ = c.manager.Delete(ctx, pipelineConsumerName, eventID)
		return err
	}
	return nil
}
