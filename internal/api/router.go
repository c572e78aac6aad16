package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/auth"
	"github.com/hackgods/dental-consult-booking/internal/payment"
	"github.com/hackgods/dental-consult-booking/internal/slots"
	"github.com/hackgods/dental-consult-booking/internal/video"
)

type RouterConfig struct {
	Service     *appointment.Service
	Sessions    appointment.Sessions
	Payments    *payment.Service
	Video       *video.Tokens
	Checks      []Check
	Logger      *slog.Logger
	BookingDays int
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BookingDays <= 0 {
		cfg.BookingDays = slots.DefaultBookableDays
	}

	h := &handlers{
		svc:         cfg.Service,
		sessions:    cfg.Sessions,
		payments:    cfg.Payments,
		video:       cfg.Video,
		bookingDays: cfg.BookingDays,
		logger:      cfg.Logger,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(auth.Middleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Reference data
	r.Get("/providers", h.listProviders)
	r.Get("/services", h.listServices)
	r.Get("/dates", h.listDates)

	// Booking
	r.Get("/slots", h.getSlots)
	r.Post("/appointments", h.createAppointment)
	r.Get("/appointments", h.listAppointments)
	r.Get("/appointments/upcoming", h.upcomingAppointment)

	if cfg.Payments != nil {
		r.Post("/payments/intent", h.createPaymentIntent)
	}
	if cfg.Video != nil {
		r.Post("/video/token", h.createVideoToken)
	}

	return r
}
