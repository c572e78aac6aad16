package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/dental-consult-booking/internal/catalog"
	"github.com/hackgods/dental-consult-booking/internal/events"
	redisclient "github.com/hackgods/dental-consult-booking/internal/redis"
	"github.com/hackgods/dental-consult-booking/internal/slots"
)

var (
	ErrMissingSelection = errors.New("provider, service, date and slot must all be selected")
	ErrInvalidSelection = errors.New("selection is not bookable")
	ErrUnauthenticated  = errors.New("sign in required")
	ErrSlotAlreadyTaken = errors.New("this time slot was just booked by another patient, please select a different time")
	ErrFetchFailed      = errors.New("failed to load booked slots")
	ErrBookingFailed    = errors.New("failed to book appointment, please try again")
	ErrCommitInProgress = errors.New("a booking for this attempt is already being confirmed")
	ErrCallNotOpen      = errors.New("the video call opens 10 minutes before the appointment and closes 30 minutes after it starts")
)

const defaultPublishTimeout = 2 * time.Second

type Service struct {
	repo      Repository
	sessions  Sessions
	guard     redisclient.Guard
	catalog   *catalog.Catalog
	publisher events.Publisher
	clock     Clock
	loc       *time.Location
	window    slots.Window
	logger    *slog.Logger
	tracer    trace.Tracer

	publishTimeout time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithLocation sets the zone in which calendar dates and "today" are read.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithPublishTimeout bounds how long a booked event may hold up the commit response.
func WithPublishTimeout(d time.Duration) Option { return func(s *Service) { s.publishTimeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithCatalog(c *catalog.Catalog) Option { return func(s *Service) { s.catalog = c } }

func NewService(repo Repository, sessions Sessions, guard redisclient.Guard, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sessions: sessions,
		guard:    guard,
		catalog:  catalog.Default(),
		clock:    SystemClock,
		loc:      time.UTC,
		window:   slots.DefaultWindow,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/hackgods/dental-consult-booking/internal/appointment"),

		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = NewMemoryGuard()
	}
	return s
}

func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Location is the zone in which calendar dates are read.
func (s *Service) Location() *time.Location { return s.loc }

// Today is the current calendar day in the service location.
func (s *Service) Today() time.Time {
	now := s.clock.Now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// BookableDates lists the next count weekdays starting today.
func (s *Service) BookableDates(count int) []time.Time {
	return slots.BookableDates(s.Today(), count)
}

// Availability reads the provider's active bookings for the day from the store and
// returns the slots still open. It always hits the store: callers re-run it whenever
// the selected date or provider changes or the booking view becomes active again.
func (s *Service) Availability(ctx context.Context, providerID string, date time.Time) (*Availability, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Availability")
	defer span.End()

	providerID = strings.TrimSpace(providerID)
	if providerID == "" || date.IsZero() {
		return nil, ErrMissingSelection
	}
	if _, err := s.catalog.Provider(providerID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}

	day := s.calendarDay(date)
	if !slots.IsWeekday(day) {
		return nil, fmt.Errorf("%w: %s is not a weekday", ErrInvalidSelection, day.Format(time.DateOnly))
	}
	if day.Before(s.Today()) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrInvalidSelection, day.Format(time.DateOnly))
	}
	span.SetAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("date", day.Format(time.DateOnly)),
	)

	from, to := slots.DayBounds(day)
	booked, err := s.repo.FetchBookedInstants(ctx, providerID, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch booked instants")
		s.logger.Error("fetch booked instants failed", "provider_id", providerID, "date", day.Format(time.DateOnly), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	open := slots.Labels(s.window.Available(day, booked, s.clock.Now()))
	return &Availability{
		ProviderID: providerID,
		Date:       day,
		Slots:      open,
		Empty:      len(open) == 0,
	}, nil
}

// Commit books a slot for the signed-in patient.
//
// The existence check before the insert only saves a round trip in the common case.
// The store's uniqueness constraint is what decides a race, and losing it is reported
// as ErrSlotAlreadyTaken exactly like a failed pre-check.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Commit")
	defer span.End()

	out := &Outcome{State: StateIdle, Trail: []State{StateIdle}}

	attempt := strings.TrimSpace(req.AttemptID)
	if attempt == "" {
		attempt = uuid.NewString()
	}

	err := s.guard.WithAttempt(ctx, attempt, func(ctx context.Context) error {
		return s.commit(ctx, req, out)
	})
	switch {
	case err == nil:
	case errors.Is(err, redisclient.ErrAttemptInFlight):
		out.advance(StateRejected)
		err = ErrCommitInProgress
	case !out.State.Terminal():
		// The guard failed around a commit that never reached a verdict.
		out.advance(StateFailed)
		if !isBookingError(err) {
			err = fmt.Errorf("%w: %v", ErrBookingFailed, err)
		}
	}
	span.SetAttributes(attribute.String("state", string(out.State)))
	if err != nil {
		return out, err
	}

	// The attempt flag is already released; a slow broker only delays the response.
	s.publishBooked(ctx, out.Appointment)
	return out, nil
}

func (s *Service) commit(ctx context.Context, req CommitRequest, out *Outcome) error {
	out.advance(StateValidating)

	provider, service, startAt, err := s.resolve(req)
	if err != nil {
		out.advance(StateRejected)
		return err
	}

	patientID, err := s.sessions.CurrentPatientID(ctx)
	if err != nil || patientID == "" {
		if err != nil && !errors.Is(err, ErrNoSession) {
			s.logger.Warn("session lookup failed", "err", err)
		}
		out.advance(StateRejected)
		return ErrUnauthenticated
	}

	taken, err := s.repo.FindActiveBooking(ctx, provider.ID, startAt)
	if err != nil {
		out.advance(StateFailed)
		s.logger.Error("pre-check failed", "provider_id", provider.ID, "start_at", startAt, "err", err)
		return fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}
	if taken {
		out.advance(StateConflict)
		out.advance(StateRejected)
		s.logger.Info("slot taken at pre-check", "provider_id", provider.ID, "start_at", startAt)
		return ErrSlotAlreadyTaken
	}

	out.advance(StateInserting)
	appt, err := s.repo.InsertBooking(ctx, NewAppointment{
		PatientID:    patientID,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		StartAt:      startAt,
		Status:       StatusConfirmed,
		Notes:        strings.TrimSpace(req.Notes),
		ServiceType:  service.ID,
		ServiceName:  service.Name,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateBooking) {
			out.advance(StateRejected)
			s.logger.Info("slot taken at insert", "provider_id", provider.ID, "start_at", startAt)
			return ErrSlotAlreadyTaken
		}
		out.advance(StateFailed)
		s.logger.Error("insert appointment failed", "provider_id", provider.ID, "start_at", startAt, "err", err)
		return fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	out.advance(StateCommitted)
	out.Appointment = appt
	return nil
}

func (s *Service) publishBooked(ctx context.Context, appt *Appointment) {
	if s.publisher == nil || appt == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	s.logEvent(ctx, appt, events.TopicAppointmentBooked, map[string]any{
		"appointment_id": appt.ID.String(),
		"patient_id":     appt.PatientID,
		"provider_id":    appt.ProviderID,
		"provider_name":  appt.ProviderName,
		"service_type":   appt.ServiceType,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	})
}

// Upcoming returns the signed-in patient's next active appointment. An appointment
// whose call is still open counts as upcoming until the call closes.
func (s *Service) Upcoming(ctx context.Context) (*UpcomingAppointment, error) {
	patientID, reader, err := s.patientReader(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	appt, err := reader.NextActive(ctx, patientID, now.Add(-JoinLate))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return &UpcomingAppointment{Appointment: *appt, CanJoin: CanJoin(appt.StartAt, now)}, nil
}

// Appointments lists the signed-in patient's appointments, soonest first.
func (s *Service) Appointments(ctx context.Context, limit int) ([]Appointment, error) {
	patientID, reader, err := s.patientReader(ctx)
	if err != nil {
		return nil, err
	}

	list, err := reader.ListByPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return list, nil
}

// JoinCall returns the signed-in patient's appointment if its video call is open now.
// Someone else's appointment is reported as not found.
func (s *Service) JoinCall(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	patientID, reader, err := s.patientReader(ctx)
	if err != nil {
		return nil, err
	}

	appt, err := reader.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if appt.PatientID != patientID {
		s.logger.Warn("call join for another patient's appointment", "appointment_id", appointmentID)
		return nil, ErrAppointmentNotFound
	}
	if !appt.Status.Active() || !CanJoin(appt.StartAt, s.clock.Now()) {
		return nil, ErrCallNotOpen
	}
	return appt, nil
}

func (s *Service) patientReader(ctx context.Context) (string, PatientAppointments, error) {
	patientID, err := s.sessions.CurrentPatientID(ctx)
	if err != nil || patientID == "" {
		return "", nil, ErrUnauthenticated
	}

	reader, ok := s.repo.(PatientAppointments)
	if !ok {
		return "", nil, ErrAppointmentNotFound
	}
	return patientID, reader, nil
}

// CompleteEnded marks confirmed consultations as completed once their slot is over.
func (s *Service) CompleteEnded(ctx context.Context, c Completer) (int64, error) {
	slotLength := time.Duration(s.window.Step) * time.Minute
	n, err := c.CompleteEnded(ctx, s.clock.Now().Add(-slotLength))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("completed ended appointments", "count", n)
	}
	return n, nil
}

// resolve checks the selection is complete and bookable and builds the UTC start instant.
func (s *Service) resolve(req CommitRequest) (catalog.Provider, catalog.ServiceType, time.Time, error) {
	if strings.TrimSpace(req.ProviderID) == "" || strings.TrimSpace(req.ServiceTypeID) == "" ||
		req.Date.IsZero() || strings.TrimSpace(req.Slot) == "" {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, ErrMissingSelection
	}

	provider, err := s.catalog.Provider(strings.TrimSpace(req.ProviderID))
	if err != nil {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	service, err := s.catalog.Service(strings.TrimSpace(req.ServiceTypeID))
	if err != nil {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}

	slot, err := slots.ParseSlot(strings.TrimSpace(req.Slot))
	if err != nil {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	if !s.window.Contains(slot) {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %s is outside the service window", ErrInvalidSelection, slot)
	}

	day := s.calendarDay(req.Date)
	if !slots.IsWeekday(day) {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %s is not a weekday", ErrInvalidSelection, day.Format(time.DateOnly))
	}

	startAt := slot.On(day)
	if startAt.Before(s.clock.Now()) {
		return catalog.Provider{}, catalog.ServiceType{}, time.Time{}, fmt.Errorf("%w: %s is in the past", ErrInvalidSelection, startAt.Format(time.RFC3339))
	}

	return provider, service, startAt, nil
}

// calendarDay keeps the Y/M/D of date as a midnight in the service location.
func (s *Service) calendarDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) logEvent(ctx context.Context, appt *Appointment, eventType string, payload map[string]any) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", "event_type", eventType, "err", err)
		return
	}

	ev := events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        appt.ID.String(),
		Payload:    data,
		OccurredAt: s.clock.Now().UTC(),
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("failed to publish event", "event_type", eventType, "appointment_id", appt.ID, "err", err)
	}
}

func isBookingError(err error) bool {
	for _, target := range []error{
		ErrMissingSelection,
		ErrInvalidSelection,
		ErrUnauthenticated,
		ErrSlotAlreadyTaken,
		ErrBookingFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
