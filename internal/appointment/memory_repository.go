package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process and enforces the same uniqueness rule
// as the database: one active appointment per provider and start instant.
type MemoryRepository struct {
	mu    sync.Mutex
	appts []Appointment
	now   func() time.Time
}

var (
	_ Repository          = (*MemoryRepository)(nil)
	_ PatientAppointments = (*MemoryRepository)(nil)
)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (r *MemoryRepository) FetchBookedInstants(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []time.Time
	for _, a := range r.appts {
		if a.ProviderID != providerID || !a.Status.Active() {
			continue
		}
		if a.StartAt.Before(from) || a.StartAt.After(to) {
			continue
		}
		out = append(out, a.StartAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *MemoryRepository) FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.findActiveLocked(providerID, startAt)
	return found, nil
}

func (r *MemoryRepository) InsertBooking(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if in.Status.Active() {
		if _, found := r.findActiveLocked(in.ProviderID, in.StartAt); found {
			return nil, ErrDuplicateBooking
		}
	}

	a := Appointment{
		ID:           uuid.New(),
		PatientID:    in.PatientID,
		ProviderID:   in.ProviderID,
		ProviderName: in.ProviderName,
		StartAt:      in.StartAt.UTC(),
		Status:       in.Status,
		Notes:        in.Notes,
		ServiceType:  in.ServiceType,
		ServiceName:  in.ServiceName,
		CreatedAt:    r.now().UTC(),
	}
	r.appts = append(r.appts, a)
	return &a, nil
}

func (r *MemoryRepository) NextActive(ctx context.Context, patientID string, from time.Time) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Appointment
	for i := range r.appts {
		a := r.appts[i]
		if a.PatientID != patientID || !a.Status.Active() || a.StartAt.Before(from) {
			continue
		}
		if next == nil || a.StartAt.Before(next.StartAt) {
			next = &a
		}
	}
	if next == nil {
		return nil, ErrAppointmentNotFound
	}
	return next, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appts {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryRepository) CompleteEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.appts {
		if r.appts[i].Status == StatusConfirmed && r.appts[i].StartAt.Before(cutoff) {
			r.appts[i].Status = StatusCompleted
			n++
		}
	}
	return n, nil
}

// SetStatus changes an appointment's status, standing in for cancellation and
// completion which happen outside this service.
func (r *MemoryRepository) SetStatus(id uuid.UUID, status AppointmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.appts {
		if r.appts[i].ID == id {
			r.appts[i].Status = status
			return nil
		}
	}
	return ErrAppointmentNotFound
}

// Appointments returns a copy of everything stored.
func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Appointment, len(r.appts))
	copy(out, r.appts)
	return out
}

func (r *MemoryRepository) findActiveLocked(providerID string, startAt time.Time) (int, bool) {
	for i, a := range r.appts {
		if a.ProviderID == providerID && a.Status.Active() && a.StartAt.Equal(startAt) {
			return i, true
		}
	}
	return -1, false
}
