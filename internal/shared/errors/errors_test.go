package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestTimeoutIsUpstream(t *testing.T) {
	err := Timeout("easily", context.DeadlineExceeded)

	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected timeout error to match ErrTimeout")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Error("Expected timeout error to match ErrUpstream")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Expected timeout error to keep its cause")
	}
	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("Expected status %d, got %d", http.StatusGatewayTimeout, err.HTTPStatus)
	}
}

func TestUpstreamIsNotTimeout(t *testing.T) {
	err := Upstream("lifen", http.StatusServiceUnavailable, "maintenance", nil)

	if errors.Is(err, ErrTimeout) {
		t.Error("Expected plain upstream error not to match ErrTimeout")
	}
	if got := UpstreamStatus(err); got != http.StatusServiceUnavailable {
		t.Errorf("Expected upstream status 503, got %d", got)
	}
	if err.Details["upstream_message"] != "maintenance" {
		t.Errorf("Expected upstream message, got %q", err.Details["upstream_message"])
	}
}

func TestInvalidDateIsFormat(t *testing.T) {
	err := InvalidDate("start_date", "2024/01/01")

	if !errors.Is(err, ErrFormat) {
		t.Error("Expected invalid date to match ErrFormat")
	}
	if err.Details["field"] != "start_date" {
		t.Errorf("Expected field start_date, got %q", err.Details["field"])
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"timeout", Timeout("easily", nil), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"upstream 503", Upstream("easily", 503, "", nil), true},
		{"upstream 400", Upstream("easily", 400, "", nil), false},
		{"connection failure", Upstream("easily", 0, "", errors.New("refused")), true},
		{"invalid query", InvalidQuery("venues", "missing"), false},
		{"wrapped timeout", fmt.Errorf("chunk 3: %w", Timeout("easily", nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	err := FromContext("oracle", fmt.Errorf("query: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}

	plain := errors.New("syntax error")
	if got := FromContext("oracle", plain); got != plain {
		t.Errorf("Expected error unchanged, got %v", got)
	}
}

func TestWrapKeepsCategory(t *testing.T) {
	err := Wrap(InvalidQuery("end_date", "end_date is required"), "easily")

	if !errors.Is(err, ErrInvalidQuery) {
		t.Error("Expected wrapped error to keep ErrInvalidQuery")
	}
	if err.Message != "easily: end_date is required" {
		t.Errorf("Unexpected message %q", err.Message)
	}
}
