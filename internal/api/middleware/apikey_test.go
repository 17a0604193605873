package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cubeline/cubeline/internal/api/middleware"
)

func protected(t *testing.T, keyList string) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return middleware.NewAPIKeyAuth(keyList).Middleware(next)
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	h := protected(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when no keys configured", rec.Code)
	}
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	h := protected(t, "secret-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a key", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("WWW-Authenticate header missing on 401")
	}
}

func TestAPIKeyAuthAcceptsValidKey(t *testing.T) {
	h := protected(t, "secret-1, secret-2")

	tests := []struct {
		name string
		set  func(*http.Request)
		want int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-2") }, http.StatusOK},
		{"x-api-key header", func(r *http.Request) { r.Header.Set("X-API-Key", "secret-1") }, http.StatusOK},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
			tt.set(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAPIKeyAuthKeepsHealthPublic(t *testing.T) {
	h := protected(t, "secret-1")
	for _, path := range []string{"/health", "/version"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200 (public path)", path, rec.Code)
		}
	}
}
