package handlers

import (
	"context"
	"net/http"
	"strings"

	"erp_wa/internal/services"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*services.JWTClaims, error)
}

// corsMiddleware allows any origin, matching the frontend deployments.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, ngrok-skip-browser-warning")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests without a valid bearer token and stores the caller's
// user ID in the request context.
func requireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeFailure(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				writeFailure(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				writeFailure(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromContext(ctx context.Context) uint {
	id, _ := ctx.Value(userIDKey).(uint)
	return id
}
