package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/config"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Open connects to Postgres via the pgx stdlib driver, applies any
// pending goose migrations from the embedded migrations directory, and
// configures the connection pool per cfg. It pairs database/sql (rather
// than a pgxpool.Pool) with the pgx driver specifically so that store
// unit tests can run against go-sqlmock without a live database -- see
// DESIGN.md.
func Open(ctx context.Context, cfg config.Store, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	log.Info().Str("dsn_host", safeHost(cfg.DSN)).Msg("store: migrations applied")
	return db, nil
}

// safeHost avoids logging credentials embedded in a DSN.
func safeHost(dsn string) string {
	if len(dsn) > 0 {
		return "configured"
	}
	return "unconfigured"
}
