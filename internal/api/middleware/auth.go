package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/example/ec-cart-consistency/internal/auth"
	"github.com/example/ec-cart-consistency/internal/model"
)

const (
	// SessionCookie carries the anonymous cart token.
	SessionCookie = "cart_session"
	// SessionHeader is the header alternative for API clients.
	SessionHeader = "X-Cart-Session"

	sessionMaxAge = 30 * 24 * 60 * 60
)

// respondError writes a JSON error response in the API result shape
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

// ExtractToken extracts JWT token from cookie or Authorization header
func ExtractToken(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	// Fall back to Authorization header (for API clients)
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func extractSession(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get(SessionHeader)
}

type contextKey string

const (
	customerContextKey contextKey = "customer"
	sessionContextKey  contextKey = "session"
)

// Identity resolves who is calling. A valid access token makes the caller a
// customer; every caller also gets an anonymous session token, issued as a
// cookie on first contact.
func Identity(jwtService *auth.JWTService, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if tokenString := ExtractToken(r); tokenString != "" {
				claims, err := jwtService.ValidateAccessToken(tokenString)
				if errors.Is(err, auth.ErrExpiredToken) {
					respondError(w, "token expired", http.StatusUnauthorized)
					return
				}
				if err != nil {
					respondError(w, "invalid token", http.StatusUnauthorized)
					return
				}
				ctx = context.WithValue(ctx, customerContextKey, claims.Customer())
			}

			session := extractSession(r)
			if _, err := uuid.Parse(session); err != nil {
				session = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    session,
					Path:     "/",
					MaxAge:   sessionMaxAge,
					HttpOnly: true,
					Secure:   secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
				w.Header().Set(SessionHeader, session)
			}
			ctx = context.WithValue(ctx, sessionContextKey, session)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCustomer rejects callers without a valid access token.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CustomerID(r.Context()) == "" {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CustomerID returns the authenticated customer, or "".
func CustomerID(ctx context.Context) string {
	id, _ := ctx.Value(customerContextKey).(string)
	return id
}

// SessionToken returns the anonymous session token, or "".
func SessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionContextKey).(string)
	return token
}

// CartOwner is the customer cart when signed in and the session cart otherwise.
func CartOwner(ctx context.Context) model.OwnerKey {
	if id := CustomerID(ctx); id != "" {
		return model.Customer(id)
	}
	return model.Anonymous(SessionToken(ctx))
}

// WithIdentity returns ctx carrying the given identity. Intended for tests and
// internal callers that bypass HTTP.
func WithIdentity(ctx context.Context, customerID, session string) context.Context {
	if customerID != "" {
		ctx = context.WithValue(ctx, customerContextKey, customerID)
	}
	return context.WithValue(ctx, sessionContextKey, session)
}
