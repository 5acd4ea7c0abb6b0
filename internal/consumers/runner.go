package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/mateovidal/brandvault-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
)

// Processor handles one decoded outbox envelope. Returning an error nacks
// the message only when the error is retryable; poison messages must be
// swallowed (logged) or returned as non-retryable coded errors.
type Processor interface {
	Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error
}

// Runner drives one Pub/Sub subscription into a Processor.
type Runner struct {
	name         string
	subscription *gcppubsub.Subscriber
	processor    Processor
	logg         *logger.Logger
}

// NewRunner builds a subscription runner.
func NewRunner(name string, subscription *gcppubsub.Subscriber, processor Processor, logg *logger.Logger) (*Runner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("runner name required")
	}
	if subscription == nil {
		return nil, errors.New("subscription required")
	}
	if processor == nil {
		return nil, errors.New("processor required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Runner{
		name:         name,
		subscription: subscription,
		processor:    processor,
		logg:         logg,
	}, nil
}

// Run consumes messages until the context is canceled or the subscription
// errors.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if r.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns true when the message should be redelivered.
func (r *Runner) process(ctx context.Context, msg *gcppubsub.Message) bool {
	fields := map[string]any{
		"consumer":   r.name,
		"message_id": msg.ID,
	}
	logCtx := r.logg.WithFields(ctx, fields)

	rawType := strings.TrimSpace(msg.Attributes["event_type"])
	eventType, err := enums.ParseOutboxEventType(rawType)
	if err != nil {
		// Unknown event types are acked: redelivery cannot fix them.
		r.logg.Warn(logCtx, fmt.Sprintf("unknown event type %q", rawType))
		return false
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		r.logg.Error(logCtx, "malformed payload envelope", err)
		return false
	}

	fields["event_id"] = envelope.EventID
	fields["event_type"] = eventType
	logCtx = r.logg.WithFields(ctx, fields)

	if err := r.processor.Process(logCtx, eventType, envelope); err != nil {
		r.logg.Error(logCtx, "consumer processing failed", err)
		// Uncoded errors are assumed transient; coded errors carry their
		// own retry policy.
		if typed := pkgerrors.As(err); typed != nil {
			return pkgerrors.IsRetryable(err)
		}
		return true
	}
	return false
}
