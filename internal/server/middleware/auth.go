// Package middleware provides HTTP middleware for reviewer authentication.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// reviewerKey is the context key for storing the authenticated reviewer.
const reviewerKey ContextKey = "reviewer"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (ReviewerGetter, error)
}

// ReviewerGetter extracts the reviewer identity from token claims.
type ReviewerGetter interface {
	GetReviewer() string
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the token's reviewer in the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				unauthorized(w)
				return
			}

			reviewer := strings.TrimSpace(claims.GetReviewer())
			if reviewer == "" {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), reviewerKey, reviewer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken parses "Authorization: Bearer <token>", case-insensitive on
// the scheme.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// GetReviewer extracts the authenticated reviewer from the request context.
func GetReviewer(r *http.Request) (string, error) {
	reviewer, ok := r.Context().Value(reviewerKey).(string)
	if !ok {
		return "", fmt.Errorf("reviewer not found in request context")
	}
	return reviewer, nil
}

// ReviewerKey returns the context key for the reviewer (for testing purposes).
func ReviewerKey() ContextKey {
	return reviewerKey
}
