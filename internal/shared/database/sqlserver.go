package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/jmoiron/sqlx"

	"github.com/foch-qualite/sequad/internal/shared/config"
)

// OpenSQLServer connects to the Easily schema and verifies the connection.
func OpenSQLServer(ctx context.Context, cfg config.SQLServerConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlserver", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sql server: %w", err)
	}

	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sql server: %w", err)
	}
	return db, nil
}
