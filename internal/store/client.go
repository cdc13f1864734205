// Package store is the Postgres-backed persistence layer for the Event
// Log, Exception Store, and Evidence Tracker. It replaces the teacher's
// ent-based ORM with hand-written pgx SQL (see DESIGN.md for why ent was
// dropped), while keeping the teacher's golang-migrate + embedded-SQL
// migration strategy unchanged.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection settings.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int32
	ConnMaxLifetime time.Duration
}

// Client wraps a pgx connection pool and exposes the component stores.
type Client struct {
	pool *pgxpool.Pool

	Events    *EventLog
	Exceptions *ExceptionStore
	Evidence  *EvidenceStore
}

// NewClient opens a connection pool, runs migrations, and returns a ready
// Client, matching the teacher's pkg/database/client.go NewClient flow
// (open → configure pool → ping → migrate) with ent removed.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{
		pool:       pool,
		Events:     &EventLog{pool: pool},
		Exceptions: &ExceptionStore{pool: pool},
		Evidence:   &EvidenceStore{pool: pool},
	}, nil
}

// Close releases the connection pool.
func (c *Client) Close() { c.pool.Close() }

// Health pings the database, matching the teacher's /health check contract.
func (c *Client) Health(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func runMigrations(databaseURL string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
