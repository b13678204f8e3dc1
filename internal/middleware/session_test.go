package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskboard/internal/storage/memory"
)

func sessionProbe(t *testing.T) (http.Handler, *string) {
	t.Helper()
	store := memory.New()
	if err := store.SetSession(context.Background(), "s-valid", "u1"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	var gotUser string
	h := SessionAuth(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &gotUser
}

func TestSessionAuthHeader(t *testing.T) {
	h, gotUser := sessionProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-Session-Id", "s-valid")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if *gotUser != "u1" {
		t.Fatalf("want u1 in context, got %q", *gotUser)
	}
}

func TestSessionAuthQueryFallback(t *testing.T) {
	h, gotUser := sessionProbe(t)

	// Browser WebSocket clients cannot set headers; the query param works.
	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=s-valid", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if *gotUser != "u1" {
		t.Fatalf("want u1 in context, got %q", *gotUser)
	}
}

func TestSessionAuthRejects(t *testing.T) {
	h, _ := sessionProbe(t)

	tests := []struct {
		name    string
		session string
	}{
		{"no session", ""},
		{"unknown session", "s-unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.session != "" {
				req.Header.Set("X-Session-Id", tt.session)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("want 401, got %d", rec.Code)
			}
		})
	}
}
