package escalation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
)

type fakeDB struct{}

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeTicketRepo struct {
	tickets    map[uuid.UUID]*models.Ticket
	byIncident map[uuid.UUID]*models.Ticket
	createErr  error
	created    int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{
		tickets:    map[uuid.UUID]*models.Ticket{},
		byIncident: map[uuid.UUID]*models.Ticket{},
	}
}

func (f *fakeTicketRepo) Create(ctx context.Context, tx *gorm.DB, ticket *models.Ticket) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created++
	f.tickets[ticket.ID] = ticket
	if ticket.IncidentID != nil {
		f.byIncident[*ticket.IncidentID] = ticket
	}
	return nil
}

func (f *fakeTicketRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	ticket, ok := f.tickets[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return ticket, nil
}

func (f *fakeTicketRepo) FindOpenByIncident(ctx context.Context, incidentID uuid.UUID) (*models.Ticket, error) {
	return f.byIncident[incidentID], nil
}

func (f *fakeTicketRepo) MarkResolved(ctx context.Context, tx *gorm.DB, id uuid.UUID, resolvedAt time.Time) error {
	ticket, ok := f.tickets[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if ticket.ResolvedAt == nil {
		ticket.ResolvedAt = &resolvedAt
		ticket.Status = enums.TicketResolved
	}
	return nil
}

type fakeIncidentMetaRepo struct {
	metadata map[uuid.UUID]dbtypes.JSONMap
}

func (f *fakeIncidentMetaRepo) UpdateMetadata(ctx context.Context, tx *gorm.DB, id uuid.UUID, metadata dbtypes.JSONMap) error {
	if f.metadata == nil {
		f.metadata = map[uuid.UUID]dbtypes.JSONMap{}
	}
	f.metadata[id] = metadata
	return nil
}

type fakeDedupEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeDedupEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T, tickets *fakeTicketRepo, incidents *fakeIncidentMetaRepo, emitter *fakeDedupEmitter) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "escalation-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		DB:        fakeDB{},
		Tickets:   tickets,
		Incidents: incidents,
		Outbox:    emitter,
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func incidentFixture() *models.SystemIncident {
	return &models.SystemIncident{
		ID:         uuid.New(),
		SourceType: enums.SourceUpload,
		Severity:   enums.SeverityError,
		Title:      "upload session stalled",
		Metadata:   dbtypes.JSONMap{},
	}
}

func uploadTarget(failureCount int) Target {
	sourceID := uuid.New()
	return Target{
		SourceType: enums.SourceUpload,
		SourceID:   sourceID.String(),
		Failure: models.FailureTracking{
			FailureReason: enums.UploadTransferFailed,
			FailureCount:  failureCount,
		},
	}
}

func TestCreateTicketIfNeededAtThreshold(t *testing.T) {
	tickets := newFakeTicketRepo()
	incidents := &fakeIncidentMetaRepo{}
	emitter := &fakeDedupEmitter{}
	svc := newTestService(t, tickets, incidents, emitter)

	incident := incidentFixture()
	target := uploadTarget(3)
	var linked *uuid.UUID
	target.LinkTicket = func(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID) error {
		linked = &ticketID
		return nil
	}

	result := svc.CreateTicketIfNeeded(context.Background(), target, incident, nil)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.Created || result.Ticket == nil {
		t.Fatal("expected a new ticket")
	}
	if tickets.created != 1 {
		t.Fatalf("expected exactly one ticket, got %d", tickets.created)
	}
	if linked == nil || *linked != result.Ticket.ID {
		t.Fatal("expected escalation_ticket_id linked to the new ticket")
	}
	if result.Ticket.Status != enums.TicketOpen {
		t.Fatalf("expected open status, got %s", result.Ticket.Status)
	}
	if result.Ticket.AISummary != nil {
		t.Fatal("expected nil summary when triage was skipped")
	}

	meta := incidents.metadata[incident.ID]
	if meta.String(models.IncidentMetaTicketID) != result.Ticket.ID.String() {
		t.Fatal("expected ticket id recorded on the incident")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventIncidentEscalated {
		t.Fatalf("expected one incident_escalated event, got %v", emitter.events)
	}
}

func TestCreateTicketIfNeededBelowThreshold(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	result := svc.CreateTicketIfNeeded(context.Background(), uploadTarget(2), incidentFixture(), nil)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Created || result.Ticket != nil {
		t.Fatal("expected no ticket below the threshold")
	}
	if tickets.created != 0 {
		t.Fatalf("expected zero tickets, got %d", tickets.created)
	}
}

func TestCreateTicketIfNeededExistingTicketOnTarget(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	existing := &models.Ticket{ID: uuid.New(), Status: enums.TicketOpen}
	tickets.tickets[existing.ID] = existing

	target := uploadTarget(1)
	target.Failure.EscalationTicketID = &existing.ID

	result := svc.CreateTicketIfNeeded(context.Background(), target, nil, nil)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Created {
		t.Fatal("expected no new ticket when one is attached")
	}
	if result.Ticket == nil || result.Ticket.ID != existing.ID {
		t.Fatal("expected the attached ticket returned")
	}
	if tickets.created != 0 {
		t.Fatalf("expected zero new tickets, got %d", tickets.created)
	}
}

func TestCreateTicketIdempotentPerIncident(t *testing.T) {
	tickets := newFakeTicketRepo()
	incidents := &fakeIncidentMetaRepo{}
	emitter := &fakeDedupEmitter{}
	svc := newTestService(t, tickets, incidents, emitter)

	incident := incidentFixture()
	target := uploadTarget(3)

	first := svc.CreateTicketIfNeeded(context.Background(), target, incident, nil)
	if first.Err != nil || !first.Created {
		t.Fatalf("first call should create: %+v", first)
	}

	// Second call for the same incident, ticket pointer now in metadata.
	second := svc.CreateTicketIfNeeded(context.Background(), target, incident, nil)
	if second.Err != nil {
		t.Fatalf("unexpected error: %v", second.Err)
	}
	if second.Created {
		t.Fatal("expected second call to reuse the ticket")
	}
	if second.Ticket == nil || second.Ticket.ID != first.Ticket.ID {
		t.Fatal("expected the same ticket returned")
	}
	if tickets.created != 1 {
		t.Fatalf("expected one ticket total, got %d", tickets.created)
	}
}

func TestCreateTicketReusesOpenTicketWithoutMetadata(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	incident := incidentFixture()
	existing := &models.Ticket{ID: uuid.New(), IncidentID: &incident.ID, Status: enums.TicketOpen}
	tickets.tickets[existing.ID] = existing
	tickets.byIncident[incident.ID] = existing

	ticket, err := svc.CreateTicket(context.Background(), uploadTarget(5), incident, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticket.ID != existing.ID {
		t.Fatal("expected the open ticket bound to the incident")
	}
	if tickets.created != 0 {
		t.Fatalf("expected zero new tickets, got %d", tickets.created)
	}
}

func TestCreateTicketIfNeededSwallowsFailures(t *testing.T) {
	tickets := newFakeTicketRepo()
	tickets.createErr = errors.New("tickets table unavailable")
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	result := svc.CreateTicketIfNeeded(context.Background(), uploadTarget(3), incidentFixture(), nil)
	if result.Created || result.Ticket != nil {
		t.Fatal("expected no ticket on storage failure")
	}
	if result.Err == nil {
		t.Fatal("expected the failure surfaced in the result")
	}
}

func TestCreateTicketCarriesSummary(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	summary := "GPU worker pool exhausted during thumbnail render"
	result := svc.CreateTicketIfNeeded(context.Background(), uploadTarget(4), incidentFixture(), &summary)
	if result.Err != nil || !result.Created {
		t.Fatalf("expected a ticket: %+v", result)
	}
	if result.Ticket.AISummary == nil || *result.Ticket.AISummary != summary {
		t.Fatal("expected the triage summary on the ticket")
	}
}

func TestResolveTicket(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := newTestService(t, tickets, &fakeIncidentMetaRepo{}, &fakeDedupEmitter{})

	result := svc.CreateTicketIfNeeded(context.Background(), uploadTarget(3), incidentFixture(), nil)
	if result.Err != nil || !result.Created {
		t.Fatalf("expected a ticket: %+v", result)
	}

	if err := svc.ResolveTicket(context.Background(), result.Ticket.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Ticket.ResolvedAt == nil || result.Ticket.Status != enums.TicketResolved {
		t.Fatal("expected the ticket closed")
	}
}
