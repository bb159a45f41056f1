// ABOUTME: HTTP middleware for JWT authentication on gateway endpoints
// ABOUTME: Extracts a bearer token from the Authorization header and verifies it

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// Subject returns the verified token subject stored in the request context,
// or an empty string when the request was not authenticated.
func Subject(ctx context.Context) string {
	sub, _ := ctx.Value(contextKey{}).(string)
	return sub
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT bearer tokens, storing the subject in the request context.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	http.Error(w, `{"error":"`+message+`"}`, http.StatusUnauthorized)
}
