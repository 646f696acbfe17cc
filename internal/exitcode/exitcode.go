// Package exitcode maps failures of the sequad command to process exit codes.
package exitcode

import (
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
)

const (
	Success         = 0
	UsageError      = 1
	ValidationError = 2
	FormatError     = 3
	UpstreamError   = 4
	TimeoutError    = 5
	DBConnError     = 6
	InternalError   = 7
)

// For returns the exit code of err.
func For(err error) int {
	switch {
	case err == nil:
		return Success
	case apperrors.Is(err, apperrors.ErrInvalidQuery), apperrors.Is(err, apperrors.ErrInvalidDate):
		return ValidationError
	case apperrors.Is(err, apperrors.ErrFormat):
		return FormatError
	case apperrors.Is(err, apperrors.ErrTimeout):
		return TimeoutError
	case apperrors.Is(err, apperrors.ErrUpstream):
		return UpstreamError
	}
	return InternalError
}
