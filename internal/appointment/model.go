package appointment

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ActiveStatuses occupy a slot. Cancelled and completed appointments do not.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// The video call for an appointment opens JoinEarly before its start and closes
// JoinLate after it.
const (
	JoinEarly = 10 * time.Minute
	JoinLate  = 30 * time.Minute
)

// CanJoin reports whether the call for an appointment starting at start is open at now.
// The distance is counted in whole minutes, rounded down.
func CanJoin(start, now time.Time) bool {
	mins := math.Floor(start.Sub(now).Minutes())
	return mins <= JoinEarly.Minutes() && mins >= -JoinLate.Minutes()
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    string
	ProviderID   string
	ProviderName string
	StartAt      time.Time
	Status       AppointmentStatus
	Notes        string
	ServiceType  string
	ServiceName  string
	CreatedAt    time.Time
}

// NewAppointment is what a commit asks the store to insert.
type NewAppointment struct {
	PatientID    string
	ProviderID   string
	ProviderName string
	StartAt      time.Time
	Status       AppointmentStatus
	Notes        string
	ServiceType  string
	ServiceName  string
}

// UpcomingAppointment is the patient's next appointment and whether its call is open.
type UpcomingAppointment struct {
	Appointment
	CanJoin bool
}

// Availability is a point-in-time snapshot of the open slots of one provider on one day.
type Availability struct {
	ProviderID string
	Date       time.Time
	Slots      []string
	// Empty is set when the store answered and nothing is left to book.
	Empty bool
}

// State of a single booking attempt.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateConflict   State = "conflict"
	StateInserting  State = "inserting"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected || s == StateFailed
}

type CommitRequest struct {
	// AttemptID identifies one booking attempt. Only one commit per attempt may be in flight.
	AttemptID     string
	ProviderID    string
	ServiceTypeID string
	Date          time.Time
	Slot          string
	Notes         string
}

// Outcome reports where a commit attempt ended and the states it went through.
type Outcome struct {
	State       State
	Trail       []State
	Appointment *Appointment
}

func (o *Outcome) advance(st State) {
	o.State = st
	o.Trail = append(o.Trail, st)
}
