// Command easily-api serves discharge letters from the Easily SQL Server schema.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/shared/auth"
	"github.com/foch-qualite/sequad/internal/shared/config"
	"github.com/foch-qualite/sequad/internal/shared/database"
	"github.com/foch-qualite/sequad/internal/shared/logging"
	"github.com/foch-qualite/sequad/internal/shared/server"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
)

const serviceName = "easily-api"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(8000)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.Setup(cfg.Log.Format, cfg.Log.Level).With().Str("service", serviceName).Logger()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := database.OpenSQLServer(ctx, cfg.EasilyDB)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("host", cfg.EasilyDB.Host).Str("database", cfg.EasilyDB.Database).Msg("connected to Easily")

	repo := easily.NewRepository(db, log)

	r := server.NewRouter(cfg, log, serviceName, map[string]server.Check{
		"database": repo.Health,
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.RequireRoles(auth.RoleEasily))
		r.Mount("/patients", easily.NewHandler(repo, log).Routes())
	})

	return server.Serve(ctx, r, cfg.Server.Port, cfg.Limits.RequestTimeout, log)
}
