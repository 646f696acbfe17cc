// Command lifen-api serves letter diffusions from the Lifen Oracle schema,
// fetching long periods in chunks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	"github.com/foch-qualite/sequad/internal/shared/auth"
	"github.com/foch-qualite/sequad/internal/shared/config"
	"github.com/foch-qualite/sequad/internal/shared/database"
	"github.com/foch-qualite/sequad/internal/shared/logging"
	"github.com/foch-qualite/sequad/internal/shared/server"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
	"github.com/foch-qualite/sequad/internal/shared/upstream"
)

const serviceName = "lifen-api"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(8001)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.Setup(cfg.Log.Format, cfg.Log.Level).With().Str("service", serviceName).Logger()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := database.OpenOracle(ctx, cfg.LifenDB)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("host", cfg.LifenDB.Host).Str("service_name", cfg.LifenDB.Service).Msg("connected to Lifen")

	repo := lifen.NewRepository(db, cfg.Chunking.RowLimit, log)
	// Stay numbers of a period come from the Easily service.
	letters := easily.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.EasilyURL,
		Timeout: cfg.Upstream.Timeout,
		Token:   cfg.Upstream.ServiceToken,
	}, log)
	fetcher := lifen.NewFetcher(repo, letters, lifen.FetcherConfigFrom(cfg), log)

	r := server.NewRouter(cfg, log, serviceName, map[string]server.Check{
		"database": repo.Health,
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.RequireRoles(auth.RoleLifen))
		r.Mount("/diffusion", lifen.NewHandler(fetcher, cfg.Chunking.MaxPeriodDays, log).Routes())
	})

	return server.Serve(ctx, r, cfg.Server.Port, cfg.Limits.RequestTimeout, log)
}
