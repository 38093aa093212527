// ABOUTME: HTTP middleware for operator session authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the Session to context

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

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

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// OptionalSessionMiddleware attaches a Session when the request carries a
// valid bearer token and lets anonymous requests through untouched. A token
// that is present but invalid is rejected, so a stale operator login fails
// loudly instead of silently acting as a visitor.
func OptionalSessionMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, errMsg := extractBearerToken(header)
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			session, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireOperator rejects requests without an operator Session.
// Must be used after OptionalSessionMiddleware.
func RequireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := FromContext(r.Context())
			if session == nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !session.IsOperator() {
				writeError(w, http.StatusUnauthorized, "operator session required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
