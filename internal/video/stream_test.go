package video

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssue(t *testing.T) {
	tokens := NewTokens("stream-key", "stream-secret", 0)

	s, err := tokens.Issue("patient-1", "", "7f1c")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if s.CallID != "pav-dental-7f1c" {
		t.Fatalf("unexpected call id %s", s.CallID)
	}
	if s.UserName != "Patient" || s.APIKey != "stream-key" {
		t.Fatalf("unexpected session %+v", s)
	}

	claims := &userClaims{}
	_, err = jwt.ParseWithClaims(s.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("stream-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.UserID != "patient-1" {
		t.Fatalf("expected user_id patient-1, got %s", claims.UserID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected 1h validity, got %s", got)
	}
}

func TestIssueErrors(t *testing.T) {
	if _, err := NewTokens("k", "s", time.Hour).Issue("", "Ann", "a1"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if _, err := NewTokens("k", "s", time.Hour).Issue("p1", "Ann", " "); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if _, err := NewTokens("", "", time.Hour).Issue("p1", "Ann", "a1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
