package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oohdoc/booking-platform/internal/booking"
)

type contextKey string

const sessionContextKey contextKey = "booking_session"

// IssueSessionToken mints the signed token front ends present on every
// call within one booking session.
func IssueSessionToken(secret, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("middleware: sign session token: %w", err)
	}
	return signed, nil
}

// SessionAuth resolves the Bearer session token to a live booking
// session and rejects requests whose session is unknown or expired.
func SessionAuth(secret string, registry *booking.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := sessionIDFromRequest(r, secret)
			if err != nil {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}
			session, ok := registry.Get(sessionID)
			if !ok {
				http.Error(w, "unknown or expired session", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the booking session installed by SessionAuth.
func SessionFromContext(ctx context.Context) (*booking.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*booking.Session)
	return s, ok
}

func sessionIDFromRequest(r *http.Request, secret string) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, found := strings.CutPrefix(raw, "Bearer "); found {
		raw = strings.TrimSpace(after)
	}
	if raw == "" {
		// Websocket clients cannot set headers; allow the query form.
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		return "", fmt.Errorf("middleware: missing session token")
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("middleware: parse session token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("middleware: unexpected claims type")
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return "", fmt.Errorf("middleware: token missing session id")
	}
	return sid, nil
}
