package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/sijms/go-ora/v2" // Oracle driver

	"github.com/foch-qualite/sequad/internal/shared/config"
)

// OpenOracle connects to the Lifen schema and verifies the connection.
func OpenOracle(ctx context.Context, cfg config.OracleConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("oracle", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open oracle: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping oracle: %w", err)
	}
	return db, nil
}
