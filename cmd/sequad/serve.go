package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/foch-qualite/sequad/internal/audit"
	"github.com/foch-qualite/sequad/internal/dashboard"
	"github.com/foch-qualite/sequad/internal/session"
	"github.com/foch-qualite/sequad/internal/shared/auth"
	"github.com/foch-qualite/sequad/internal/shared/database"
	"github.com/foch-qualite/sequad/internal/shared/server"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
	"github.com/foch-qualite/sequad/internal/venues"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	Long: `Serve the dashboard API under /api/v1: sessions, venue imports and
report runs. When AUDIT_DATABASE_URL is set, every run is appended to the
audit log, readable under /api/v1/runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default SERVER_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "sequad")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	sessionDB, err := database.OpenSQLite(cfg.Session.DBPath)
	if err != nil {
		return &connError{err}
	}
	defer sessionDB.Close()

	sessions := session.NewStore(sessionDB, cfg.Session.TTL, log)
	if err := sessions.Migrate(ctx); err != nil {
		return &connError{err}
	}
	go sessions.PurgeEvery(ctx, 10*time.Minute)

	checks := map[string]server.Check{
		"sessions": sessions.Health,
		"audit":    nil,
	}

	var runs *audit.Repository
	if cfg.Audit.DatabaseURL != "" {
		pool, err := database.OpenPostgres(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			return &connError{err}
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, log); err != nil {
			return err
		}
		runs = audit.NewRepository(pool)
		if err := runs.Initialize(ctx); err != nil {
			return err
		}
		checks["audit"] = runs.Health
		log.Info().Msg("audit log enabled")
	}

	dash := dashboard.NewHandler(
		newPipeline(),
		sessions,
		venues.NewExtractor(cfg.Analysis.VenueColumnAliases),
		runLog(runs),
		log,
	)

	r := server.NewRouter(cfg, log, "sequad", checks)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.RequireRoles(auth.RoleAnalysis))
		if runs != nil {
			r.Mount("/runs", audit.NewHandler(runs).Routes())
		}
		r.Mount("/", dash.Routes())
	})

	return server.Serve(ctx, r, cfg.Server.Port, cfg.Limits.RequestTimeout, log)
}

// runLog keeps a nil repository a nil interface.
func runLog(runs *audit.Repository) dashboard.RunLog {
	if runs == nil {
		return nil
	}
	return runs
}
