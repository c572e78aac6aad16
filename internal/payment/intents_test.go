package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v79"
)

type fakeCreator struct {
	got    *stripe.PaymentIntentParams
	result *stripe.PaymentIntent
	err    error
}

func (f *fakeCreator) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	pi := *f.result
	pi.Amount = *params.Amount
	pi.Currency = stripe.Currency(*params.Currency)
	return &pi, nil
}

var testFees = Fees{Appointment: 19.99, Additional: 5.00}

func TestToMinorUnits(t *testing.T) {
	cases := map[float64]int64{
		24.99: 2499,
		19.99: 1999,
		0.5:   50,
		10:    1000,
	}
	for in, want := range cases {
		if got := ToMinorUnits(in); got != want {
			t.Errorf("ToMinorUnits(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestCreateIntentDefaultsToConsultationFee(t *testing.T) {
	fc := &fakeCreator{result: &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}
	svc := NewService(fc, "GBP", testFees, nil)

	intent, err := svc.CreateIntent(context.Background(), IntentRequest{AppointmentID: "appt-1"})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if intent.Amount != 2499 || intent.Currency != "gbp" {
		t.Fatalf("expected 2499 gbp, got %d %s", intent.Amount, intent.Currency)
	}
	if intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("expected client secret, got %q", intent.ClientSecret)
	}
	if fc.got.Confirm != nil {
		t.Fatal("intent without payment method must not be confirmed")
	}
	if fc.got.Metadata["appointment_id"] != "appt-1" {
		t.Fatalf("expected appointment metadata, got %v", fc.got.Metadata)
	}
}

func TestCreateIntentConfirmsWithPaymentMethod(t *testing.T) {
	fc := &fakeCreator{result: &stripe.PaymentIntent{ID: "pi_2", ClientSecret: "pi_2_secret", Status: stripe.PaymentIntentStatusSucceeded}}
	svc := NewService(fc, "gbp", testFees, nil)

	intent, err := svc.CreateIntent(context.Background(), IntentRequest{Amount: 30, PaymentMethodID: "pm_card_visa"})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if fc.got.Confirm == nil || !*fc.got.Confirm {
		t.Fatal("expected intent to be confirmed")
	}
	if fc.got.AutomaticPaymentMethods.AllowRedirects == nil || *fc.got.AutomaticPaymentMethods.AllowRedirects != "never" {
		t.Fatal("expected redirects to be disabled")
	}
	if intent.Amount != 3000 || intent.Status != "succeeded" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.ClientSecret != "" {
		t.Fatal("confirmed intent must not expose the client secret")
	}
}

func TestCreateIntentErrors(t *testing.T) {
	svc := NewService(&fakeCreator{err: &stripe.Error{Msg: "Your card was declined."}}, "gbp", testFees, nil)
	if _, err := svc.CreateIntent(context.Background(), IntentRequest{}); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}

	svc = NewService(&fakeCreator{}, "gbp", testFees, nil)
	if _, err := svc.CreateIntent(context.Background(), IntentRequest{Amount: -5}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	svc = NewStripeService("", "gbp", testFees, nil)
	if _, err := svc.CreateIntent(context.Background(), IntentRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
