package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository          = (*PgRepository)(nil)
	_ PatientAppointments = (*PgRepository)(nil)
)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ProviderName,
		&a.StartAt,
		&a.Status,
		&notes,
		&a.ServiceType,
		&a.ServiceName,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if notes != nil {
		a.Notes = *notes
	}
	a.StartAt = a.StartAt.UTC()
	return &a, nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Interface methods

func (r *PgRepository) FetchBookedInstants(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_at
		FROM appointments
		WHERE provider_id = $1
		  AND start_at >= $2
		  AND start_at <= $3
		  AND status IN ('pending', 'confirmed')
		ORDER BY start_at ASC
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query booked instants: %w", err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var startAt time.Time
		if err := rows.Scan(&startAt); err != nil {
			return nil, err
		}
		result = append(result, startAt.UTC())
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE provider_id = $1
			  AND start_at = $2
			  AND status IN ('pending', 'confirmed')
		)
	`, providerID, startAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active appointment: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) InsertBooking(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, now(), now())
		RETURNING id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at
	`, id, in.PatientID, in.ProviderID, in.ProviderName, in.StartAt.UTC(), in.Status, in.Notes, in.ServiceType, in.ServiceName)

	appt, err := scanAppointment(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) NextActive(ctx context.Context, patientID string, from time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at
		FROM appointments
		WHERE patient_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_at >= $2
		ORDER BY start_at ASC
		LIMIT 1
	`, patientID, from)
	return scanAppointment(row)
}

// CompleteEnded marks confirmed appointments that started before cutoff as completed
// and returns how many rows changed.
func (r *PgRepository) CompleteEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    updated_at = now()
		WHERE status = 'confirmed'
		  AND start_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("complete ended appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByPatient returns a patient's appointments, soonest first.
func (r *PgRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_at ASC
		LIMIT $2
	`, patientID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
