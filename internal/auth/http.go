// ABOUTME: HTTP middleware for bearer token authentication on API and socket endpoints
// ABOUTME: Reads the Authorization header or the access_token query parameter

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/chathub/internal/store"
)

// AccessTokenParam is the query parameter browsers use on the socket upgrade,
// where custom headers are not available.
const AccessTokenParam = "access_token"

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

// TokenFromRequest finds the bearer token on r. The header wins over the query.
func TokenFromRequest(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get(AccessTokenParam); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate resolves the user behind r. The user must exist in users.
func Authenticate(r *http.Request, users store.UserStore, verifier TokenVerifier) (string, int, string) {
	token, errMsg := TokenFromRequest(r)
	if errMsg != "" {
		return "", http.StatusUnauthorized, errMsg
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return "", http.StatusUnauthorized, "token expired"
		}
		return "", http.StatusUnauthorized, "invalid token"
	}

	if _, err := users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", http.StatusUnauthorized, "user not found"
		}
		return "", http.StatusInternalServerError, "user lookup failed"
	}
	return userID, http.StatusOK, ""
}

// HTTPAuthMiddleware rejects requests without a valid token for a known user
// and stores the user id in the request context.
func HTTPAuthMiddleware(users store.UserStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, status, errMsg := Authenticate(r, users, verifier)
			if errMsg != "" {
				logger.Debug("request rejected", "path", r.URL.Path, "reason", errMsg)
				writeError(w, status, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
