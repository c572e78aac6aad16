package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type tokenKey struct{}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware stores the bearer token on the request context. It never rejects:
// routes that need a patient fail later with an unauthenticated error.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := BearerToken(r); token != "" {
			r = r.WithContext(WithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

// JWTSessions resolves the patient from an HS256 access token issued by the hosted
// auth service. The subject claim is the patient id.
type JWTSessions struct {
	secret []byte
	now    func() time.Time
}

var _ appointment.Sessions = (*JWTSessions)(nil)

func NewJWTSessions(secret string) *JWTSessions {
	return &JWTSessions{secret: []byte(secret), now: time.Now}
}

func (s *JWTSessions) CurrentPatientID(ctx context.Context) (string, error) {
	raw, ok := TokenFromContext(ctx)
	if !ok {
		return "", appointment.ErrNoSession
	}
	return s.Verify(raw)
}

// Verify checks the token signature and expiry and returns its subject.
func (s *JWTSessions) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssueToken signs an access token for patientID. The hosted auth service issues
// the real ones; this is used by the simulator and tests.
func IssueToken(secret, patientID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   patientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
