package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/catalog"
)

const (
	uniqueViolation = "23505"
	noRows          = "PGRST116"
)

var activeStatuses = statusValues(appointment.ActiveStatuses)

func statusValues(in []appointment.AppointmentStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

type Options struct {
	Table string
	// LegacyNameJoin keys bookings on the dentist display name, for projects whose
	// appointments table predates the provider_id column.
	LegacyNameJoin bool
	Catalog        *catalog.Catalog
}

// Store is the booking repository on a hosted Supabase project, through PostgREST.
type Store struct {
	client  *supa.Client
	table   string
	legacy  bool
	catalog *catalog.Catalog
}

var (
	_ appointment.Repository          = (*Store)(nil)
	_ appointment.PatientAppointments = (*Store)(nil)
)

func NewClient(url, serviceRoleKey string) (*supa.Client, error) {
	client, err := supa.NewClient(url, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

func NewStore(client *supa.Client, opts Options) *Store {
	if opts.Table == "" {
		opts.Table = "appointments"
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &Store{client: client, table: opts.Table, legacy: opts.LegacyNameJoin, catalog: opts.Catalog}
}

type appointmentRow struct {
	ID          uuid.UUID `json:"id"`
	PatientID   string    `json:"patient_id"`
	ProviderID  *string   `json:"provider_id,omitempty"`
	DentistName string    `json:"dentist_name"`
	StartAt     time.Time `json:"start_at"`
	Status      string    `json:"status"`
	Notes       *string   `json:"notes"`
	ServiceType string    `json:"service_type"`
	ServiceName string    `json:"service_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type startRow struct {
	StartAt time.Time `json:"start_at"`
}

// providerFilter returns the column and value that identify the provider's rows.
func (s *Store) providerFilter(providerID string) (string, string, error) {
	if !s.legacy {
		return "provider_id", providerID, nil
	}
	p, err := s.catalog.Provider(providerID)
	if err != nil {
		return "", "", err
	}
	return "dentist_name", p.Name, nil
}

func (s *Store) FetchBookedInstants(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, val, err := s.providerFilter(providerID)
	if err != nil {
		return nil, err
	}

	data, _, err := s.client.From(s.table).
		Select("start_at", "", false).
		Eq(col, val).
		Gte("start_at", timestamp(from)).
		Lte("start_at", timestamp(to)).
		In("status", activeStatuses).
		Order("start_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("query booked instants: %w", err)
	}

	var rows []startRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode booked instants: %w", err)
	}

	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.StartAt.UTC())
	}
	return out, nil
}

func (s *Store) FindActiveBooking(ctx context.Context, providerID string, startAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	col, val, err := s.providerFilter(providerID)
	if err != nil {
		return false, err
	}

	data, _, err := s.client.From(s.table).
		Select("id", "", false).
		Eq(col, val).
		Eq("start_at", timestamp(startAt)).
		In("status", activeStatuses).
		Limit(1, "").
		Execute()
	if err != nil {
		return false, fmt.Errorf("check active appointment: %w", err)
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, fmt.Errorf("decode active appointment: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *Store) InsertBooking(ctx context.Context, in appointment.NewAppointment) (*appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := s.client.From(s.table).
		Insert(s.insertPayload(in), false, "", "representation", "").
		Execute()
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, appointment.ErrDuplicateBooking
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	rows, err := s.decodeAppointments(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("insert appointment: no row returned")
	}
	return &rows[0], nil
}

func (s *Store) NextActive(ctx context.Context, patientID string, from time.Time) (*appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("patient_id", patientID).
		In("status", activeStatuses).
		Gte("start_at", timestamp(from)).
		Order("start_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(1, "").
		Execute()
	if err != nil {
		if strings.Contains(err.Error(), noRows) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("query upcoming appointment: %w", err)
	}

	rows, err := s.decodeAppointments(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &rows[0], nil
}

func (s *Store) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("id", id.String()).
		Limit(1, "").
		Execute()
	if err != nil {
		if strings.Contains(err.Error(), noRows) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	rows, err := s.decodeAppointments(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID string, limit int) ([]appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > appointment.MaxListLimit {
		limit = appointment.DefaultListLimit
	}

	data, _, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("patient_id", patientID).
		Order("start_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return s.decodeAppointments(data)
}

// Ping is a cheap read for the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.client.From(s.table).Select("id", "", false).Limit(1, "").Execute()
	return err
}

func (s *Store) insertPayload(in appointment.NewAppointment) map[string]any {
	row := map[string]any{
		"patient_id":   in.PatientID,
		"dentist_name": in.ProviderName,
		"start_at":     timestamp(in.StartAt),
		"status":       string(in.Status),
		"service_type": in.ServiceType,
		"service_name": in.ServiceName,
	}
	if in.Notes != "" {
		row["notes"] = in.Notes
	}
	if !s.legacy {
		row["provider_id"] = in.ProviderID
	}
	return row
}

func (s *Store) decodeAppointments(data []byte) ([]appointment.Appointment, error) {
	var rows []appointmentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}

	out := make([]appointment.Appointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.toAppointment(r))
	}
	return out, nil
}

func (s *Store) toAppointment(r appointmentRow) appointment.Appointment {
	a := appointment.Appointment{
		ID:           r.ID,
		PatientID:    r.PatientID,
		ProviderName: r.DentistName,
		StartAt:      r.StartAt.UTC(),
		Status:       appointment.AppointmentStatus(r.Status),
		ServiceType:  r.ServiceType,
		ServiceName:  r.ServiceName,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.Notes != nil {
		a.Notes = *r.Notes
	}

	switch {
	case r.ProviderID != nil && *r.ProviderID != "":
		a.ProviderID = *r.ProviderID
	default:
		if p, err := s.catalog.ProviderByName(r.DentistName); err == nil {
			a.ProviderID = p.ID
		}
	}
	return a
}

// IsUniqueViolation reports whether a PostgREST error carries SQLSTATE 23505.
// postgrest-go flattens errors to "(code) message".
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), uniqueViolation)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
