// Package auth verifies bearer tokens and carries the caller's user id
// through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey struct{}

// Verifier issues and checks HS256 tokens whose subject is the user id
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID valid for ttl
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify returns the user id carried by raw
func (v *Verifier) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// user id in the request context
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == r.Header.Get("Authorization") && raw != "" {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}

		userID, err := v.Verify(strings.TrimSpace(raw))
		if errors.Is(err, ErrMissingToken) {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		} else if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

// WithUser returns a copy of ctx carrying userID
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the user id stored by Middleware, or ""
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}
