package exitcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
)

func TestFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, Success},
		{"invalid query", apperrors.InvalidQuery("start_date", "start_date is required"), ValidationError},
		{"invalid date", apperrors.InvalidDate("end_date", "13/01/2024"), ValidationError},
		{"format", apperrors.Format("unsupported file", nil), FormatError},
		{"upstream", apperrors.Upstream("lifen", 500, "lifen failed", nil), UpstreamError},
		{"timeout", apperrors.Timeout("easily", context.DeadlineExceeded), TimeoutError},
		{"wrapped upstream", fmt.Errorf("report: %w", apperrors.Upstream("easily", 0, "unreachable", nil)), UpstreamError},
		{"plain", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := For(tt.err); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}
