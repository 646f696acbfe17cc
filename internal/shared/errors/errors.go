package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// Common error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidQuery = errors.New("invalid query")
	ErrFormat       = errors.New("format error")
	ErrUpstream     = errors.New("upstream error")
	ErrInternal     = errors.New("internal error")

	// ErrTimeout is a specialization of ErrUpstream.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrUpstream)
	// ErrInvalidDate is a specialization of ErrFormat.
	ErrInvalidDate = fmt.Errorf("%w: invalid date", ErrFormat)
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Cause      error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *AppError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// InvalidQuery reports a query that is missing a required field or mixes modes.
func InvalidQuery(field, message string) *AppError {
	return &AppError{
		Err:        ErrInvalidQuery,
		Message:    message,
		Code:       "INVALID_QUERY",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]string{"field": field},
	}
}

// InvalidDate reports a date that does not follow YYYY-MM-DD.
func InvalidDate(field, value string) *AppError {
	return &AppError{
		Err:        ErrInvalidDate,
		Message:    fmt.Sprintf("invalid %s %q, expected YYYY-MM-DD", field, value),
		Code:       "INVALID_DATE",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]string{"field": field, "value": value},
	}
}

// Format reports an unsupported or unreadable input file.
func Format(message string, cause error) *AppError {
	return &AppError{
		Err:        ErrFormat,
		Cause:      cause,
		Message:    message,
		Code:       "FORMAT_ERROR",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Upstream reports a failed call to a downstream service or database.
// status is the upstream HTTP status, or 0 when no response was received.
func Upstream(target string, status int, message string, cause error) *AppError {
	details := map[string]string{"target": target}
	if status > 0 {
		details["upstream_status"] = strconv.Itoa(status)
	}
	if message != "" {
		details["upstream_message"] = message
	}
	return &AppError{
		Err:        ErrUpstream,
		Cause:      cause,
		Message:    fmt.Sprintf("%s request failed", target),
		Code:       "UPSTREAM_ERROR",
		HTTPStatus: http.StatusBadGateway,
		Details:    details,
	}
}

// Timeout reports an upstream call that exceeded its deadline.
func Timeout(target string, cause error) *AppError {
	return &AppError{
		Err:        ErrTimeout,
		Cause:      cause,
		Message:    fmt.Sprintf("%s request timed out", target),
		Code:       "UPSTREAM_TIMEOUT",
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]string{"target": target},
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Cause:      err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        ErrInternal,
		Cause:      err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// UpstreamStatus returns the upstream HTTP status carried by err, or 0.
func UpstreamStatus(err error) int {
	appErr, ok := As(err)
	if !ok || appErr.Details == nil {
		return 0
	}
	status, _ := strconv.Atoi(appErr.Details["upstream_status"])
	return status
}

// FromContext maps a deadline or connection failure from a call to target
// onto the Timeout/Upstream categories. Other errors are returned as is.
func FromContext(target string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(target, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout(target, err)
		}
		return Upstream(target, 0, "", err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return Upstream(target, 0, "", err)
	}
	return err
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures and upstream 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, ErrUpstream) {
		status := UpstreamStatus(err)
		return status == 0 || status >= 500
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
