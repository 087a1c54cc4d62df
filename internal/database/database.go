// Package database opens the store selected by configuration.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/dfaulken/rules/internal/config"
	"github.com/dfaulken/rules/rules"
)

// Handle is an open store plus its lifecycle hooks.
type Handle struct {
	Store  rules.Store
	Driver string

	ping  func(context.Context) error
	close func() error
}

// Open connects to the store described by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Handle, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return FromPostgres(db), nil

	case config.DriverSQLite:
		store, err := rules.NewSQLiteStoreWithConfig(rules.SQLiteConfig{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &Handle{
			Store:  store,
			Driver: cfg.Driver,
			ping:   store.Ping,
			close:  store.Close,
		}, nil

	case config.DriverMemory:
		return NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// FromPostgres wraps an already open PostgreSQL connection pool.
func FromPostgres(db *sql.DB) *Handle {
	return &Handle{
		Store:  rules.NewPostgresStore(db),
		Driver: config.DriverPostgres,
		ping:   db.PingContext,
		close:  db.Close,
	}
}

// NewMemory returns a handle over a fresh in-memory store.
func NewMemory() *Handle {
	return &Handle{
		Store:  rules.NewInMemoryStore(),
		Driver: config.DriverMemory,
		ping:   func(context.Context) error { return nil },
		close:  func() error { return nil },
	}
}

// Ping checks the store is reachable.
func (h *Handle) Ping(ctx context.Context) error {
	return h.ping(ctx)
}

// Close releases the store's resources.
func (h *Handle) Close() error {
	return h.close()
}
