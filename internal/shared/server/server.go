// Package server holds the HTTP plumbing shared by the sequad binaries:
// the middleware stack, health and readiness checks, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/shared/config"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
	secmiddleware "github.com/foch-qualite/sequad/internal/shared/middleware"
)

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

// NewRouter returns a router with the global middleware and the /health,
// /ready and /metrics endpoints. A nil check is reported as not configured.
func NewRouter(cfg *config.Config, log zerolog.Logger, name string, checks map[string]Check) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(secmiddleware.RequestCap(int64(cfg.Limits.MaxTotal)))
	r.Use(secmiddleware.ConcurrencyLimit(cfg.Limits.MaxConcurrent))
	if cfg.Limits.RatePerSecond > 0 {
		r.Use(secmiddleware.NewIPRateLimiter(cfg.Limits.RatePerSecond, cfg.Limits.RateBurst).Middleware)
	}
	r.Use(chimw.Timeout(cfg.Limits.RequestTimeout))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins)))

	r.Get("/health", HealthHandler(name))
	r.Get("/ready", ReadyHandler(checks))
	r.Handle("/metrics", metrics.Handler())

	return r
}

// HealthHandler reports liveness.
func HealthHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": name,
		})
	}
}

// ReadyHandler runs every check and answers 503 when one fails.
func ReadyHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := map[string]string{
			"server": "ready",
		}
		allReady := true
		for name, check := range checks {
			if check == nil {
				results[name] = "not configured"
				continue
			}
			if err := check(r.Context()); err != nil {
				results[name] = "not ready: " + err.Error()
				allReady = false
				continue
			}
			results[name] = "ready"
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": results,
		})
	}
}

// Serve listens on port until ctx is done or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func Serve(ctx context.Context, handler http.Handler, port int, writeTimeout time.Duration, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
