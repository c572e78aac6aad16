package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type"`
	Date        string `json:"date"` // YYYY-MM-DD
	Slot        string `json:"slot"` // HH:MM
	Notes       string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    string    `json:"patient_id"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	StartAt      time.Time `json:"start_at"`
	Status       string    `json:"status"`
	ServiceType  string    `json:"service_type"`
	ServiceName  string    `json:"service_name"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type UpcomingResponse struct {
	AppointmentResponse
	// CanJoin is set while the video call is open.
	CanJoin bool `json:"can_join"`
}

type AppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type CommitResponse struct {
	State       string              `json:"state"`
	Trail       []string            `json:"trail"`
	Appointment AppointmentResponse `json:"appointment"`
}

type DatesResponse struct {
	Dates []string `json:"dates"`
}

type SlotsResponse struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
	Empty      bool     `json:"empty"`
}

type PaymentIntentRequest struct {
	Amount          float64 `json:"amount,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	PaymentMethodID string  `json:"payment_method_id,omitempty"`
	AppointmentID   string  `json:"appointment_id,omitempty"`
}

type VideoTokenRequest struct {
	UserName      string `json:"user_name,omitempty"`
	AppointmentID string `json:"appointment_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Availability is the recomputed day when a slot was lost to another patient.
	Availability *SlotsResponse `json:"availability,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		ProviderID:   a.ProviderID,
		ProviderName: a.ProviderName,
		StartAt:      a.StartAt.UTC(),
		Status:       string(a.Status),
		ServiceType:  a.ServiceType,
		ServiceName:  a.ServiceName,
		Notes:        a.Notes,
		CreatedAt:    a.CreatedAt,
	}
}

func toSlotsResponse(a *appointment.Availability) SlotsResponse {
	slots := a.Slots
	if slots == nil {
		slots = []string{}
	}
	return SlotsResponse{
		ProviderID: a.ProviderID,
		Date:       a.Date.Format(time.DateOnly),
		Slots:      slots,
		Empty:      a.Empty,
	}
}
