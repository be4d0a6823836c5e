// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header and query token extraction, verification, and user lookup

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/chathub/internal/store"
)

func newUserStore(t *testing.T) *store.MockStore {
	t.Helper()
	s := store.NewMockStore()
	if err := s.CreateUser(context.Background(), &store.User{ID: "alice", DisplayName: "Alice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return s
}

func serve(t *testing.T, verifier TokenVerifier, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var gotUser string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(newUserStore(t), verifier, nil)(handler).ServeHTTP(rec, req)
	return rec, gotUser
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("alice", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, gotUser := serve(t, verifier, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotUser != "alice" {
		t.Errorf("expected user 'alice', got '%s'", gotUser)
	}
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("alice", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)

	rec, gotUser := serve(t, verifier, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotUser != "alice" {
		t.Errorf("expected user 'alice', got '%s'", gotUser)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)
	expired, _ := verifier.Generate("alice", -time.Hour)
	stranger, _ := verifier.Generate("mallory", time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty bearer", header: "Bearer "},
		{name: "invalid token", header: "Bearer invalid-token"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "unknown user", header: "Bearer " + stranger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec, gotUser := serve(t, verifier, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if gotUser != "" {
				t.Errorf("handler should not run, got user %q", gotUser)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON error body, got %q", ct)
			}
		})
	}
}

func TestHTTPAuthMiddleware_DevMode(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer alice")

	rec, gotUser := serve(t, DevVerifier{}, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotUser != "alice" {
		t.Errorf("expected user 'alice', got '%s'", gotUser)
	}
}

func TestTokenFromRequest_HeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=query", nil)
	req.Header.Set("Authorization", "Bearer header")

	token, errMsg := TokenFromRequest(req)
	if errMsg != "" || token != "header" {
		t.Errorf("TokenFromRequest() = %q, %q; want header token", token, errMsg)
	}
}
