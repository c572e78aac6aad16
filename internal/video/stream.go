package video

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const callPrefix = "pav-dental-"

var (
	ErrMissingFields = errors.New("user id and appointment id are required")
	ErrNotConfigured = errors.New("video calls are not configured")
)

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Session struct {
	Token    string `json:"token"`
	CallID   string `json:"call_id"`
	APIKey   string `json:"api_key"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Tokens issues Stream video user tokens.
type Tokens struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(apiKey, apiSecret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{apiKey: apiKey, secret: []byte(apiSecret), ttl: ttl, now: time.Now}
}

// CallID is the call shared by patient and dentist for one appointment.
func CallID(appointmentID string) string {
	return callPrefix + appointmentID
}

func (t *Tokens) Issue(userID, userName, appointmentID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	appointmentID = strings.TrimSpace(appointmentID)
	if userID == "" || appointmentID == "" {
		return nil, ErrMissingFields
	}
	if t.apiKey == "" || len(t.secret) == 0 {
		return nil, ErrNotConfigured
	}

	now := t.now()
	claims := userClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(userName) == "" {
		userName = "Patient"
	}
	return &Session{
		Token:    token,
		CallID:   CallID(appointmentID),
		APIKey:   t.apiKey,
		UserID:   userID,
		UserName: userName,
	}, nil
}
