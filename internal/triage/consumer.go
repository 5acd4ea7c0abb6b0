package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/payloads"
)

const triageConsumerName = "triage"

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type incidentFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.SystemIncident, error)
}

type failureFinder interface {
	FindByAssetStage(ctx context.Context, assetID uuid.UUID, stage enums.Stage) (*models.AssetDerivativeFailure, error)
	SetEscalationTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID, ticketID uuid.UUID) error
}

type ticketCreator interface {
	CreateTicketIfNeeded(ctx context.Context, target escalation.Target, incident *models.SystemIncident, aiSummary *string) escalation.CreateResult
}

type planGate interface {
	Allows(ctx context.Context, tenantID uuid.UUID, feature enums.PlanFeature) (bool, error)
}

// Consumer handles stage-failure events: it decides whether the failure
// warrants a triage run, asks the classifier, and hands the verdict to the
// escalation service. Classification is advisory: an agent outage degrades
// to escalation with a nil summary, never to a dropped escalation.
type Consumer struct {
	classifier Classifier
	incidents  incidentFinder
	failures   failureFinder
	escalator  ticketCreator
	manager    idempotencyChecker
	plans      planGate
	logg       *logger.Logger
	threshold  int
}

// ConsumerParams carries the consumer dependencies.
type ConsumerParams struct {
	Classifier Classifier
	Incidents  incidentFinder
	Failures   failureFinder
	Escalator  ticketCreator
	// Plans gates the AI summary per tenant. Nil allows everything.
	Plans           planGate
	Idempotency     idempotencyChecker
	Logger          *logger.Logger
	TriageThreshold int
}

// NewConsumer builds the triage consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Classifier == nil {
		return nil, fmt.Errorf("classifier required")
	}
	if params.Incidents == nil {
		return nil, fmt.Errorf("incident finder required")
	}
	if params.Failures == nil {
		return nil, fmt.Errorf("failure finder required")
	}
	if params.Escalator == nil {
		return nil, fmt.Errorf("escalation service required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		classifier: params.Classifier,
		incidents:  params.Incidents,
		failures:   params.Failures,
		escalator:  params.Escalator,
		manager:    params.Idempotency,
		plans:      params.Plans,
		logg:       params.Logger,
		threshold:  params.TriageThreshold,
	}, nil
}

// Process handles one outbox envelope from the triage subscription.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if eventType != enums.EventStageFailed {
		c.logg.Info(logCtx, "event not handled by triage consumer")
		return nil
	}
	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, triageConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	var event payloads.StageFailedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		c.logg.Error(logCtx, "failed to decode stage failure", err)
		_ = c.manager.Delete(ctx, triageConsumerName, eventID)
		return err
	}

	if err := c.handle(ctx, event); err != nil {
		_ = c.manager.Delete(ctx, triageConsumerName, eventID)
		return err
	}
	return nil
}

// summaryAllowed checks the tenant plan before spending a classifier call.
// A gate error is treated as allowed so a billing outage cannot mute triage.
func (c *Consumer) summaryAllowed(ctx context.Context, tenantID uuid.UUID) bool {
	if c.plans == nil {
		return true
	}
	allowed, err := c.plans.Allows(ctx, tenantID, enums.FeatureTriageSummary)
	if err != nil {
		c.logg.Error(ctx, "plan feature check failed", err)
		return true
	}
	return allowed
}

func (c *Consumer) handle(ctx context.Context, event payloads.StageFailedEvent) error {
	logCtx := c.logg.WithAssetID(ctx, event.AssetID.String())
	logCtx = c.logg.WithStage(logCtx, string(event.Stage))

	failure, err := c.failures.FindByAssetStage(ctx, event.AssetID, event.Stage)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load failure entity: %w", err)
	}

	failureCount := 1
	tracking := models.FailureTracking{FailureReason: event.Reason, FailureCount: failureCount}
	if failure != nil {
		tracking = failure.FailureTracking
		failureCount = failure.FailureCount
	}

	if !ShouldDispatch(enums.SourceDerivative, event.Reason, failureCount, c.threshold) {
		c.logg.Info(logCtx, "failure below triage dispatch threshold")
		return nil
	}

	var summary *string
	if c.summaryAllowed(ctx, event.TenantID) {
		classification, err := c.classifier.Classify(ctx, Input{
			AssetID:      event.AssetID,
			TenantID:     event.TenantID,
			Stage:        event.Stage,
			Reason:       event.Reason,
			FailureCount: failureCount,
			Trace:        event.Trace,
		})
		if err != nil {
			// Escalation proceeds without the verdict.
			c.logg.Error(logCtx, "classification failed, escalating without summary", err)
		} else if classification.Summary != "" {
			text := classification.Summary
			if classification.Recommendation != "" {
				text = text + " Recommendation: " + classification.Recommendation
			}
			summary = &text
		}
	} else {
		c.logg.Info(logCtx, "triage summary not included in plan")
	}

	var incident *models.SystemIncident
	if event.IncidentID != uuid.Nil {
		incident, err = c.incidents.FindByID(ctx, event.IncidentID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load incident: %w", err)
		}
	}

	target := escalation.Target{
		SourceType: enums.SourceDerivative,
		SourceID:   event.AssetID.String(),
		TenantID:   &event.TenantID,
		Failure:    tracking,
		Subject:    fmt.Sprintf("%s stage failing for asset %s", event.Stage, event.AssetID),
	}
	if failure != nil {
		failureID := failure.ID
		target.LinkTicket = func(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID) error {
			return c.failures.SetEscalationTicket(ctx, tx, failureID, ticketID)
		}
	}

	result := c.escalator.CreateTicketIfNeeded(ctx, target, incident, summary)
	if result.Err != nil {
		// Already logged by the escalation service; the stage failure
		// record stands either way.
		c.logg.Warn(logCtx, "escalation attempt failed")
		return nil
	}
	if result.Created {
		c.logg.Info(logCtx, "triage escalated stage failure")
	}
	return nil
}
