package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNotConfigured = errors.New("payments are not configured")
	ErrPaymentFailed = errors.New("payment could not be processed")
)

// IntentCreator is the part of the Stripe PaymentIntents API the service needs.
type IntentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type Fees struct {
	Appointment float64
	Additional  float64
}

func (f Fees) Total() float64 { return f.Appointment + f.Additional }

type IntentRequest struct {
	// Amount in major units. Zero means the standard consultation fee.
	Amount          float64
	Currency        string
	PaymentMethodID string
	AppointmentID   string
	PatientID       string
	IdempotencyKey  string
}

type Intent struct {
	ID           string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type Service struct {
	creator  IntentCreator
	currency string
	fees     Fees
	logger   *slog.Logger
}

func NewService(creator IntentCreator, currency string, fees Fees, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		creator:  creator,
		currency: strings.ToLower(currency),
		fees:     fees,
		logger:   logger,
	}
}

// NewStripeService talks to the Stripe API with the given secret key.
func NewStripeService(secretKey, currency string, fees Fees, logger *slog.Logger) *Service {
	var creator IntentCreator
	if secretKey != "" {
		creator = &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	}
	return NewService(creator, currency, fees, logger)
}

func (s *Service) Fees() Fees { return s.fees }

// CreateIntent creates a PaymentIntent for the consultation fee. With a payment
// method it is confirmed immediately, otherwise the client secret is returned for
// confirmation on the device.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if s.creator == nil {
		return nil, ErrNotConfigured
	}

	amount := req.Amount
	if amount == 0 {
		amount = s.fees.Total()
	}
	minor := ToMinorUnits(amount)
	if amount < 0 || minor <= 0 {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods.AllowRedirects = stripe.String("never")
	}
	if req.AppointmentID != "" {
		params.AddMetadata("appointment_id", req.AppointmentID)
	}
	if req.PatientID != "" {
		params.AddMetadata("patient_id", req.PatientID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.creator.New(params)
	if err != nil {
		s.logger.Error("create payment intent failed", "amount", minor, "currency", currency, "err", err)
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, stripeErr.Msg)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	out := &Intent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
	}
	// A confirmed intent has nothing left for the client to do.
	if req.PaymentMethodID == "" {
		out.ClientSecret = pi.ClientSecret
	}
	return out, nil
}

// ToMinorUnits converts a major unit amount to pence, rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
