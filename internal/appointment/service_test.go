package appointment

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-consult-booking/internal/events"
)

// Monday, 08:00 UTC.
var testNow = time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

var testDay = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

type staticSessions struct {
	patientID string
	err       error
}

func (s staticSessions) CurrentPatientID(context.Context) (string, error) {
	return s.patientID, s.err
}

func fixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

func newTestService(repo Repository, opts ...Option) *Service {
	opts = append([]Option{WithClock(fixedClock(testNow))}, opts...)
	return NewService(repo, staticSessions{patientID: "patient-1"}, NewMemoryGuard(), opts...)
}

func validRequest(attempt string) CommitRequest {
	return CommitRequest{
		AttemptID:     attempt,
		ProviderID:    "hassan-bhojani",
		ServiceTypeID: "checkup",
		Date:          testDay,
		Slot:          "10:00",
		Notes:         "  sensitive molar  ",
	}
}

// rendezvousRepo lets every caller pass the pre-check before any of them inserts.
type rendezvousRepo struct {
	*MemoryRepository
	arrived sync.WaitGroup
}

func (r *rendezvousRepo) FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error) {
	taken, err := r.MemoryRepository.FindActiveBooking(ctx, providerID, startAt)
	r.arrived.Done()
	r.arrived.Wait()
	return taken, err
}

// insertLosesRepo passes the pre-check and then loses on the uniqueness constraint.
type insertLosesRepo struct{}

func (insertLosesRepo) FetchBookedInstants(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return nil, nil
}

func (insertLosesRepo) FindActiveBooking(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (insertLosesRepo) InsertBooking(context.Context, NewAppointment) (*Appointment, error) {
	return nil, ErrDuplicateBooking
}

type failingRepo struct {
	fetchErr  error
	findErr   error
	insertErr error
}

func (r failingRepo) FetchBookedInstants(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return nil, r.fetchErr
}

func (r failingRepo) FindActiveBooking(context.Context, string, time.Time) (bool, error) {
	return false, r.findErr
}

func (r failingRepo) InsertBooking(context.Context, NewAppointment) (*Appointment, error) {
	return nil, r.insertErr
}

// blockingRepo holds the pre-check open until released.
type blockingRepo struct {
	*MemoryRepository
	started chan struct{}
	release chan struct{}
}

func (r *blockingRepo) FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error) {
	close(r.started)
	<-r.release
	return r.MemoryRepository.FindActiveBooking(ctx, providerID, startAt)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestCommitSucceeds(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)

	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("expected committed, got %s", out.State)
	}
	want := []State{StateIdle, StateValidating, StateInserting, StateCommitted}
	if !reflect.DeepEqual(out.Trail, want) {
		t.Fatalf("unexpected trail %v", out.Trail)
	}

	appt := out.Appointment
	if appt == nil {
		t.Fatal("expected appointment")
	}
	if !appt.StartAt.Equal(time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", appt.StartAt)
	}
	if appt.PatientID != "patient-1" || appt.ProviderName != "Dr Hassan Bhojani" || appt.ServiceName != "Dental Checkup" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if appt.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
	if appt.Notes != "sensitive molar" {
		t.Fatalf("expected trimmed notes, got %q", appt.Notes)
	}
}

func TestCommitRemovesSlotFromAvailability(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	before, err := svc.Availability(ctx, "hassan-bhojani", testDay)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(before.Slots) != 16 {
		t.Fatalf("expected 16 open slots, got %d", len(before.Slots))
	}

	if _, err := svc.Commit(ctx, validRequest("attempt-1")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	after, err := svc.Availability(ctx, "hassan-bhojani", testDay)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(after.Slots) != 15 {
		t.Fatalf("expected 15 open slots, got %d", len(after.Slots))
	}
	for _, s := range after.Slots {
		if s == "10:00" {
			t.Fatal("booked slot still listed")
		}
	}

	other, err := svc.Availability(ctx, "cosimo-meucci", testDay)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(other.Slots) != 16 {
		t.Fatalf("booking leaked to another provider: %d open", len(other.Slots))
	}
}

func TestConcurrentCommitsExactlyOneWins(t *testing.T) {
	repo := &rendezvousRepo{MemoryRepository: NewMemoryRepository()}
	repo.arrived.Add(2)
	svc := newTestService(repo)

	type result struct {
		out *Outcome
		err error
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for _, attempt := range []string{"attempt-a", "attempt-b"} {
		wg.Add(1)
		go func(attempt string) {
			defer wg.Done()
			out, err := svc.Commit(context.Background(), validRequest(attempt))
			results <- result{out: out, err: err}
		}(attempt)
	}
	wg.Wait()
	close(results)

	var committed, rejected int
	for r := range results {
		switch {
		case r.err == nil && r.out.State == StateCommitted:
			committed++
		case errors.Is(r.err, ErrSlotAlreadyTaken) && r.out.State == StateRejected:
			rejected++
		default:
			t.Fatalf("unexpected result: state=%s err=%v", r.out.State, r.err)
		}
	}
	if committed != 1 || rejected != 1 {
		t.Fatalf("expected 1 committed and 1 rejected, got %d and %d", committed, rejected)
	}
	if n := len(repo.Appointments()); n != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", n)
	}
}

func TestCommitPreCheckConflict(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Commit(ctx, validRequest("attempt-1")); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	out, err := svc.Commit(ctx, validRequest("attempt-2"))
	if !errors.Is(err, ErrSlotAlreadyTaken) {
		t.Fatalf("expected ErrSlotAlreadyTaken, got %v", err)
	}
	want := []State{StateIdle, StateValidating, StateConflict, StateRejected}
	if !reflect.DeepEqual(out.Trail, want) {
		t.Fatalf("unexpected trail %v", out.Trail)
	}
}

func TestCommitInsertLosesRace(t *testing.T) {
	svc := newTestService(insertLosesRepo{})

	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if !errors.Is(err, ErrSlotAlreadyTaken) {
		t.Fatalf("expected ErrSlotAlreadyTaken, got %v", err)
	}
	want := []State{StateIdle, StateValidating, StateInserting, StateRejected}
	if !reflect.DeepEqual(out.Trail, want) {
		t.Fatalf("unexpected trail %v", out.Trail)
	}
	if out.Appointment != nil {
		t.Fatal("rejected commit must not carry an appointment")
	}
}

func TestCommitAfterCancellationSucceeds(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Commit(ctx, validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := repo.SetStatus(first.Appointment.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	out, err := svc.Commit(ctx, validRequest("attempt-2"))
	if err != nil {
		t.Fatalf("rebook after cancellation: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("expected committed, got %s", out.State)
	}
}

func TestCommitStoreFailures(t *testing.T) {
	boom := errors.New("connection reset")

	cases := []struct {
		name string
		repo Repository
	}{
		{"pre-check", failingRepo{findErr: boom}},
		{"insert", failingRepo{insertErr: boom}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(tc.repo)
			out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
			if !errors.Is(err, ErrBookingFailed) {
				t.Fatalf("expected ErrBookingFailed, got %v", err)
			}
			if errors.Is(err, ErrSlotAlreadyTaken) {
				t.Fatal("store failure must not read as a conflict")
			}
			if out.State != StateFailed {
				t.Fatalf("expected failed, got %s", out.State)
			}
		})
	}
}

func TestCommitUnauthenticated(t *testing.T) {
	repo := NewMemoryRepository()

	cases := []struct {
		name     string
		sessions Sessions
	}{
		{"no session", staticSessions{err: ErrNoSession}},
		{"empty patient", staticSessions{}},
		{"lookup error", staticSessions{err: errors.New("token expired")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(repo, tc.sessions, nil, WithClock(fixedClock(testNow)))
			out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			want := []State{StateIdle, StateValidating, StateRejected}
			if !reflect.DeepEqual(out.Trail, want) {
				t.Fatalf("unexpected trail %v", out.Trail)
			}
		})
	}
	if n := len(repo.Appointments()); n != 0 {
		t.Fatalf("expected nothing stored, got %d", n)
	}
}

func TestCommitSelectionErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CommitRequest)
		want   error
	}{
		{"no provider", func(r *CommitRequest) { r.ProviderID = "" }, ErrMissingSelection},
		{"no service", func(r *CommitRequest) { r.ServiceTypeID = " " }, ErrMissingSelection},
		{"no date", func(r *CommitRequest) { r.Date = time.Time{} }, ErrMissingSelection},
		{"no slot", func(r *CommitRequest) { r.Slot = "" }, ErrMissingSelection},
		{"unknown provider", func(r *CommitRequest) { r.ProviderID = "dr-nobody" }, ErrInvalidSelection},
		{"unknown service", func(r *CommitRequest) { r.ServiceTypeID = "braces" }, ErrInvalidSelection},
		{"malformed slot", func(r *CommitRequest) { r.Slot = "ten" }, ErrInvalidSelection},
		{"off-grid slot", func(r *CommitRequest) { r.Slot = "10:15" }, ErrInvalidSelection},
		{"after close", func(r *CommitRequest) { r.Slot = "17:00" }, ErrInvalidSelection},
		{"before open", func(r *CommitRequest) { r.Slot = "08:30" }, ErrInvalidSelection},
		{"saturday", func(r *CommitRequest) { r.Date = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }, ErrInvalidSelection},
		{"past slot", func(r *CommitRequest) { r.Slot = "09:00"; r.Date = testDay.AddDate(0, 0, -7) }, ErrInvalidSelection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(NewMemoryRepository())
			req := validRequest("attempt-1")
			tc.mutate(&req)

			out, err := svc.Commit(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if out.State != StateRejected || !out.State.Terminal() {
				t.Fatalf("expected rejected, got %s", out.State)
			}
		})
	}
}

func TestCommitSameAttemptInFlight(t *testing.T) {
	repo := &blockingRepo{
		MemoryRepository: NewMemoryRepository(),
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	svc := newTestService(repo)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Commit(context.Background(), validRequest("attempt-1"))
		done <- err
	}()

	<-repo.started
	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if !errors.Is(err, ErrCommitInProgress) {
		t.Fatalf("expected ErrCommitInProgress, got %v", err)
	}
	if !out.State.Terminal() {
		t.Fatalf("expected a terminal state, got %s", out.State)
	}

	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("first commit: %v", err)
	}
}

func TestCommitPublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(NewMemoryRepository(), WithPublisher(pub))

	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != events.TopicAppointmentBooked {
		t.Fatalf("unexpected event type %s", ev.Type)
	}
	if ev.Key != out.Appointment.ID.String() {
		t.Fatalf("expected key %s, got %s", out.Appointment.ID, ev.Key)
	}
}

func TestCommitIgnoresPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(NewMemoryRepository(), WithPublisher(pub))

	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("expected committed, got %s", out.State)
	}
}

func TestAvailabilityFetchFailure(t *testing.T) {
	svc := newTestService(failingRepo{fetchErr: errors.New("timeout")})

	avail, err := svc.Availability(context.Background(), "hassan-bhojani", testDay)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if avail != nil {
		t.Fatal("a failed fetch must not look like an empty day")
	}
}

func TestAvailabilityFullyBooked(t *testing.T) {
	repo := NewMemoryRepository()
	for _, label := range []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00", "12:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30"} {
		start, _ := time.Parse("2006-01-02 15:04", "2024-06-11 "+label)
		if _, err := repo.InsertBooking(context.Background(), NewAppointment{
			PatientID:  "p",
			ProviderID: "hassan-bhojani",
			StartAt:    start,
			Status:     StatusPending,
		}); err != nil {
			t.Fatalf("seed %s: %v", label, err)
		}
	}
	svc := newTestService(repo)

	avail, err := svc.Availability(context.Background(), "hassan-bhojani", testDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !avail.Empty || len(avail.Slots) != 0 {
		t.Fatalf("expected empty day, got %v", avail.Slots)
	}
}

func TestAvailabilityValidation(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	if _, err := svc.Availability(context.Background(), "", testDay); !errors.Is(err, ErrMissingSelection) {
		t.Fatalf("expected ErrMissingSelection, got %v", err)
	}
	if _, err := svc.Availability(context.Background(), "hassan-bhojani", time.Time{}); !errors.Is(err, ErrMissingSelection) {
		t.Fatalf("expected ErrMissingSelection, got %v", err)
	}
	if _, err := svc.Availability(context.Background(), "dr-nobody", testDay); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestAvailabilityTodayFiltersPast(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 45, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepository(), staticSessions{patientID: "p"}, nil, WithClock(fixedClock(now)))

	avail, err := svc.Availability(context.Background(), "hassan-bhojani", testDay)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !reflect.DeepEqual(avail.Slots, []string{"16:00", "16:30"}) {
		t.Fatalf("unexpected slots %v", avail.Slots)
	}
}

func TestBookableDatesStartToday(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	dates := svc.BookableDates(30)
	if len(dates) != 30 {
		t.Fatalf("expected 30 dates, got %d", len(dates))
	}
	if !dates[0].Equal(testDay) {
		t.Fatalf("expected first date %s, got %s", testDay, dates[0])
	}
}

func TestUpcoming(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Upcoming(ctx); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	later := validRequest("attempt-1")
	later.Slot = "15:00"
	if _, err := svc.Commit(ctx, later); err != nil {
		t.Fatalf("commit: %v", err)
	}
	sooner := validRequest("attempt-2")
	sooner.Slot = "11:30"
	if _, err := svc.Commit(ctx, sooner); err != nil {
		t.Fatalf("commit: %v", err)
	}

	next, err := svc.Upcoming(ctx)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if got := next.StartAt.Format("15:04"); got != "11:30" {
		t.Fatalf("expected 11:30, got %s", got)
	}

	anon := NewService(repo, staticSessions{err: ErrNoSession}, nil, WithClock(fixedClock(testNow)))
	if _, err := anon.Upcoming(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

type brokenGuard struct{}

func (brokenGuard) WithAttempt(context.Context, string, func(context.Context) error) error {
	return errors.New("redis: connection refused")
}

func TestCommitGuardFailure(t *testing.T) {
	svc := NewService(NewMemoryRepository(), staticSessions{patientID: "patient-1"}, brokenGuard{}, WithClock(fixedClock(testNow)))

	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if !errors.Is(err, ErrBookingFailed) {
		t.Fatalf("expected ErrBookingFailed, got %v", err)
	}
	want := []State{StateIdle, StateFailed}
	if !reflect.DeepEqual(out.Trail, want) {
		t.Fatalf("unexpected trail %v", out.Trail)
	}
}

// slowPublisher blocks until its context gives up, noting what it saw on the way in.
type slowPublisher struct {
	guard       *MemoryGuard
	attempt     string
	guardErr    error
	hasDeadline bool
}

func (p *slowPublisher) Publish(ctx context.Context, _ events.Event) error {
	p.guardErr = p.guard.WithAttempt(context.Background(), p.attempt, func(context.Context) error { return nil })
	_, p.hasDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func (p *slowPublisher) Close() error { return nil }

func TestCommitPublishesOutsideAttempt(t *testing.T) {
	guard := NewMemoryGuard()
	pub := &slowPublisher{guard: guard, attempt: "attempt-1"}
	svc := NewService(NewMemoryRepository(), staticSessions{patientID: "patient-1"}, guard,
		WithClock(fixedClock(testNow)),
		WithPublisher(pub),
		WithPublishTimeout(20*time.Millisecond),
	)

	start := time.Now()
	out, err := svc.Commit(context.Background(), validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("expected committed, got %s", out.State)
	}
	if pub.guardErr != nil {
		t.Fatalf("attempt still held while publishing: %v", pub.guardErr)
	}
	if !pub.hasDeadline {
		t.Fatal("publish ran without a deadline")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("slow broker held the commit for %s", took)
	}
}

func TestAvailabilityRejectsUnbookableDates(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	cases := []struct {
		name string
		date time.Time
	}{
		{"saturday", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			avail, err := svc.Availability(context.Background(), "hassan-bhojani", tc.date)
			if !errors.Is(err, ErrInvalidSelection) {
				t.Fatalf("expected ErrInvalidSelection, got %v", err)
			}
			if avail != nil {
				t.Fatalf("expected no availability, got %v", avail.Slots)
			}
		})
	}
}

func TestCanJoin(t *testing.T) {
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"eleven minutes early", start.Add(-11 * time.Minute), false},
		{"ten minutes early", start.Add(-10 * time.Minute), true},
		{"at start", start, true},
		{"thirty minutes in", start.Add(30 * time.Minute), true},
		{"thirty minutes and a half in", start.Add(30*time.Minute + 30*time.Second), false},
		{"thirty one minutes in", start.Add(31 * time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanJoin(start, tc.now); got != tc.want {
				t.Fatalf("CanJoin at %s: expected %v, got %v", tc.now.Format("15:04:05"), tc.want, got)
			}
		})
	}
}

func TestUpcomingCallWindow(t *testing.T) {
	repo := NewMemoryRepository()
	now := testNow
	svc := NewService(repo, staticSessions{patientID: "patient-1"}, nil,
		WithClock(ClockFunc(func() time.Time { return now })))
	ctx := context.Background()

	if _, err := svc.Commit(ctx, validRequest("attempt-1")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	steps := []struct {
		at      time.Time
		found   bool
		canJoin bool
	}{
		{time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), true, false},
		{time.Date(2024, 6, 10, 9, 50, 0, 0, time.UTC), true, true},
		{time.Date(2024, 6, 10, 10, 30, 0, 0, time.UTC), true, true},
		{time.Date(2024, 6, 10, 10, 31, 0, 0, time.UTC), false, false},
	}
	for _, step := range steps {
		now = step.at
		next, err := svc.Upcoming(ctx)
		if !step.found {
			if !errors.Is(err, ErrAppointmentNotFound) {
				t.Fatalf("at %s: expected ErrAppointmentNotFound, got %v", step.at.Format("15:04"), err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("at %s: upcoming: %v", step.at.Format("15:04"), err)
		}
		if next.CanJoin != step.canJoin {
			t.Fatalf("at %s: expected can join %v, got %v", step.at.Format("15:04"), step.canJoin, next.CanJoin)
		}
	}
}

func TestJoinCall(t *testing.T) {
	repo := NewMemoryRepository()
	now := testNow
	clock := WithClock(ClockFunc(func() time.Time { return now }))
	owner := NewService(repo, staticSessions{patientID: "patient-1"}, nil, clock)
	other := NewService(repo, staticSessions{patientID: "patient-2"}, nil, clock)
	anon := NewService(repo, staticSessions{err: ErrNoSession}, nil, clock)
	ctx := context.Background()

	out, err := owner.Commit(ctx, validRequest("attempt-1"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	id := out.Appointment.ID

	if _, err := owner.JoinCall(ctx, id); !errors.Is(err, ErrCallNotOpen) {
		t.Fatalf("expected ErrCallNotOpen two hours early, got %v", err)
	}

	now = time.Date(2024, 6, 10, 9, 55, 0, 0, time.UTC)
	if _, err := anon.JoinCall(ctx, id); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := other.JoinCall(ctx, id); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected another patient's appointment to be hidden, got %v", err)
	}
	if _, err := owner.JoinCall(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
	appt, err := owner.JoinCall(ctx, id)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if appt.ID != id {
		t.Fatalf("expected %s, got %s", id, appt.ID)
	}

	if err := repo.SetStatus(id, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := owner.JoinCall(ctx, id); !errors.Is(err, ErrCallNotOpen) {
		t.Fatalf("expected ErrCallNotOpen for a cancelled appointment, got %v", err)
	}
}

func TestAppointmentsListsOwnSoonestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	for i, slot := range []string{"15:00", "09:30", "12:00"} {
		req := validRequest("attempt-" + slot)
		req.Slot = slot
		if _, err := svc.Commit(ctx, req); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	list, err := svc.Appointments(ctx, 0)
	if err != nil {
		t.Fatalf("appointments: %v", err)
	}
	var got []string
	for _, a := range list {
		got = append(got, a.StartAt.Format("15:04"))
	}
	if !reflect.DeepEqual(got, []string{"09:30", "12:00", "15:00"}) {
		t.Fatalf("unexpected order %v", got)
	}

	list, err = svc.Appointments(ctx, 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 with limit, got %d (%v)", len(list), err)
	}

	other := NewService(repo, staticSessions{patientID: "patient-2"}, nil, WithClock(fixedClock(testNow)))
	list, err = other.Appointments(ctx, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no appointments for another patient, got %d (%v)", len(list), err)
	}
}
