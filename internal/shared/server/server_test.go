package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/shared/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Limits: config.LimitsConfig{MaxConcurrent: 10, RequestTimeout: time.Second},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func TestReadyHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checks   map[string]Check
		expected int
		check    string
		status   string
	}{
		{"all ready", map[string]Check{"database": ok}, http.StatusOK, "database", "ready"},
		{"not configured", map[string]Check{"audit": nil}, http.StatusOK, "audit", "not configured"},
		{"failing", map[string]Check{"database": ok, "oracle": down}, http.StatusServiceUnavailable, "oracle", "not ready: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadyHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
			var body struct {
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Checks[tt.check] != tt.status {
				t.Errorf("Expected %s to be %q, got %q", tt.check, tt.status, body.Checks[tt.check])
			}
		})
	}
}

func TestNewRouterEndpoints(t *testing.T) {
	r := NewRouter(testConfig(), zerolog.Nop(), "easily-api", nil)
	r.Get("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	for _, tc := range []struct {
		path     string
		expected int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/ping", http.StatusNoContent},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.expected {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.expected, rec.Code)
		}
	}
}

func TestNewRouterSecurityHeaders(t *testing.T) {
	r := NewRouter(testConfig(), zerolog.Nop(), "lifen-api", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("Expected security headers, got %v", rec.Header())
	}
}
