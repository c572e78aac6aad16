package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateBooking is returned by a Repository when its uniqueness constraint on
	// (provider, start, active status) rejects an insert.
	ErrDuplicateBooking    = errors.New("active appointment already exists for provider and start time")
	ErrNoSession           = errors.New("no authenticated patient")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository is the booking store boundary.
type Repository interface {
	// FetchBookedInstants returns the start instants of active appointments for the
	// provider with from <= start <= to.
	FetchBookedInstants(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error)

	// FindActiveBooking reports whether an active appointment starts exactly at startAt.
	FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error)

	InsertBooking(ctx context.Context, a NewAppointment) (*Appointment, error)
}

// Sessions resolves the patient behind the current request.
type Sessions interface {
	CurrentPatientID(ctx context.Context) (string, error)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// PatientAppointments is implemented by stores that can answer patient-facing reads.
type PatientAppointments interface {
	// NextActive returns the patient's earliest active appointment starting at or after
	// from, or ErrAppointmentNotFound.
	NextActive(ctx context.Context, patientID string, from time.Time) (*Appointment, error)

	// GetAppointmentByID returns ErrAppointmentNotFound for an unknown id.
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListByPatient returns up to limit of the patient's appointments, soonest first.
	ListByPatient(ctx context.Context, patientID string, limit int) ([]Appointment, error)
}

// Completer closes out appointments whose consultation has ended.
type Completer interface {
	CompleteEnded(ctx context.Context, cutoff time.Time) (int64, error)
}

// Page sizes for ListByPatient.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return DefaultListLimit
	}
	return limit
}
