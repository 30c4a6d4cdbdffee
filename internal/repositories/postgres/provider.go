package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config configures the Postgres provider.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Provider owns the shared database handle and hands out transactional
// queryers to the repositories built on top of it.
type Provider struct {
	db *sql.DB
}

// NewProvider opens the database connection pool and verifies connectivity.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
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

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Provider{db: db}, nil
}

// NewProviderFromDB wraps an existing handle, primarily for tests.
func NewProviderFromDB(db *sql.DB) (*Provider, error) {
	if db == nil {
		return nil, errors.New("postgres: db handle is required")
	}
	return &Provider{db: db}, nil
}

// DB exposes the underlying handle for migrations and health checks.
func (p *Provider) DB() *sql.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Ping verifies connectivity, used by readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errors.New("postgres: provider is not initialised")
	}
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
