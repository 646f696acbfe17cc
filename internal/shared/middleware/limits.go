package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/foch-qualite/sequad/internal/shared/metrics"
)

// ConcurrencyLimit rejects requests with 503 while max requests are in flight.
// Requests are never queued. max <= 0 disables the limit.
func ConcurrencyLimit(max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		slots := make(chan struct{}, max)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				next.ServeHTTP(w, r)
			default:
				metrics.RecordRejected("concurrency")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Service at capacity", http.StatusServiceUnavailable)
			}
		})
	}
}

// RequestCap accepts at most max requests over the process lifetime and
// rejects the rest with 503. max <= 0 disables the cap.
func RequestCap(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		var accepted atomic.Int64

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accepted.Add(1) > max {
				metrics.RecordRejected("request_cap")
				http.Error(w, "Request cap reached", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
