package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/payment"
	"github.com/hackgods/dental-consult-booking/internal/video"
)

// AttemptHeader carries the client's booking attempt id. Retries of the same
// confirmation reuse it; a fresh selection gets a new one.
const AttemptHeader = "X-Booking-Attempt"

const maxBookableDays = 90

type handlers struct {
	svc         *appointment.Service
	sessions    appointment.Sessions
	payments    *payment.Service
	video       *video.Tokens
	bookingDays int
	logger      *slog.Logger
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog().Providers())
}

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog().Services())
}

func (h *handlers) listDates(w http.ResponseWriter, r *http.Request) {
	count := h.bookingDays
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxBookableDays {
			writeError(w, http.StatusBadRequest, "invalid_count", "count must be between 1 and 90")
			return
		}
		count = n
	}

	dates := h.svc.BookableDates(count)
	resp := DatesResponse{Dates: make([]string, 0, len(dates))}
	for _, d := range dates {
		resp.Dates = append(resp.Dates, d.Format(time.DateOnly))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getSlots(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	rawDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || rawDate == "" {
		writeError(w, http.StatusBadRequest, "missing_selection", "provider_id and date are required")
		return
	}

	date, err := h.parseDate(rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	avail, err := h.svc.Availability(r.Context(), providerID, date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotsResponse(avail))
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		d, err := h.parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	out, err := h.svc.Commit(r.Context(), appointment.CommitRequest{
		AttemptID:     r.Header.Get(AttemptHeader),
		ProviderID:    req.ProviderID,
		ServiceTypeID: req.ServiceType,
		Date:          date,
		Slot:          req.Slot,
		Notes:         req.Notes,
	})
	if err != nil {
		if errors.Is(err, appointment.ErrSlotAlreadyTaken) {
			h.writeSlotTaken(r.Context(), w, req.ProviderID, date)
			return
		}
		h.writeServiceError(w, err)
		return
	}

	trail := make([]string, 0, len(out.Trail))
	for _, st := range out.Trail {
		trail = append(trail, string(st))
	}
	writeJSON(w, http.StatusCreated, CommitResponse{
		State:       string(out.State),
		Trail:       trail,
		Appointment: toAppointmentResponse(out.Appointment),
	})
}

// writeSlotTaken answers a lost race with the freshly recomputed day so the client
// can clear its selection and pick again without another round trip.
func (h *handlers) writeSlotTaken(ctx context.Context, w http.ResponseWriter, providerID string, date time.Time) {
	resp := ErrorResponse{
		Error:   "slot_already_taken",
		Details: appointment.ErrSlotAlreadyTaken.Error(),
	}

	avail, err := h.svc.Availability(ctx, providerID, date)
	if err != nil {
		h.logger.Warn("refresh after conflict failed", "provider_id", providerID, "err", err)
	} else {
		slots := toSlotsResponse(avail)
		resp.Availability = &slots
	}
	writeJSON(w, http.StatusConflict, resp)
}

func (h *handlers) upcomingAppointment(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.Upcoming(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UpcomingResponse{
		AppointmentResponse: toAppointmentResponse(&next.Appointment),
		CanJoin:             next.CanJoin,
	})
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > appointment.MaxListLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	list, err := h.svc.Appointments(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := AppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(list))}
	for i := range list {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := h.sessions.CurrentPatientID(r.Context())
	if err != nil || patientID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", appointment.ErrUnauthenticated.Error())
		return
	}

	intent, err := h.payments.CreateIntent(r.Context(), payment.IntentRequest{
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodID,
		AppointmentID:   req.AppointmentID,
		PatientID:       patientID,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "payments_unavailable", err.Error())
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount", payment.ErrInvalidAmount.Error())
		default:
			// The payment service has logged the processor's message.
			writeError(w, http.StatusBadRequest, "payment_failed", payment.ErrPaymentFailed.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// createVideoToken issues a call token to the signed-in patient for their own
// appointment, and only while the call is open.
func (h *handlers) createVideoToken(w http.ResponseWriter, r *http.Request) {
	var req VideoTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := h.sessions.CurrentPatientID(r.Context())
	if err != nil || patientID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", appointment.ErrUnauthenticated.Error())
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(req.AppointmentID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields", video.ErrMissingFields.Error())
		return
	}

	appt, err := h.svc.JoinCall(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	session, err := h.video.Issue(patientID, req.UserName, appt.ID.String())
	if err != nil {
		switch {
		case errors.Is(err, video.ErrMissingFields):
			writeError(w, http.StatusBadRequest, "missing_fields", err.Error())
		case errors.Is(err, video.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "video_unavailable", err.Error())
		default:
			h.logger.Error("issue video token failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not issue token")
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), h.svc.Location())
}

// writeServiceError maps booking errors to a status and a stable code. Store and
// transport details never reach the client.
func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrMissingSelection):
		writeError(w, http.StatusBadRequest, "missing_selection", err.Error())
	case errors.Is(err, appointment.ErrInvalidSelection):
		writeError(w, http.StatusBadRequest, "invalid_selection", err.Error())
	case errors.Is(err, appointment.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", appointment.ErrUnauthenticated.Error())
	case errors.Is(err, appointment.ErrSlotAlreadyTaken):
		writeError(w, http.StatusConflict, "slot_already_taken", appointment.ErrSlotAlreadyTaken.Error())
	case errors.Is(err, appointment.ErrCommitInProgress):
		writeError(w, http.StatusConflict, "commit_in_progress", appointment.ErrCommitInProgress.Error())
	case errors.Is(err, appointment.ErrCallNotOpen):
		writeError(w, http.StatusConflict, "call_not_open", appointment.ErrCallNotOpen.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", appointment.ErrAppointmentNotFound.Error())
	case errors.Is(err, appointment.ErrFetchFailed):
		writeError(w, http.StatusServiceUnavailable, "fetch_failed", appointment.ErrFetchFailed.Error())
	case errors.Is(err, appointment.ErrBookingFailed):
		writeError(w, http.StatusInternalServerError, "booking_failed", appointment.ErrBookingFailed.Error())
	default:
		h.logger.Error("unmapped service error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
