// Package postgres provides the connection pool, embedded goose migrations,
// and error classification helpers shared by the SQL-backed repositories.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/fluxstack/fluxlive/internal/postgres/migrations"
)

// Connect builds a pgxpool.Pool for dsn, applies the connection limits, and
// verifies the database is reachable before returning it.
func Connect(ctx context.Context, dsn string, maxConns, minConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(minConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("build pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies pending schema migrations from the embedded SQL files.
// Goose needs database/sql, so it gets its own short-lived connection through
// the pgx stdlib driver rather than the pool.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(migrationLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrationLogger routes goose output through zerolog.
type migrationLogger struct{}

func (migrationLogger) Fatalf(format string, v ...any) { log.Error().Msgf(format, v...) }
func (migrationLogger) Printf(format string, v ...any) { log.Info().Msgf(format, v...) }
