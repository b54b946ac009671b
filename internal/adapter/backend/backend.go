// Package backend opens the ratings store selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/adapter/postgres"
	"github.com/pscheid92/facerate/internal/adapter/redis"
	"github.com/pscheid92/facerate/internal/adapter/sheets"
	"github.com/pscheid92/facerate/internal/adapter/sqlite"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/config"
)

// Backend is an opened ratings store and the connection behind it.
type Backend struct {
	Name  string
	Store domain.TableStore

	closeFn func() error
}

// Close releases the store's connection.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Seeder returns the store as a domain.Seeder if it supports seeding.
func (b *Backend) Seeder() (domain.Seeder, bool) {
	s, ok := b.Store.(domain.Seeder)
	return s, ok
}

// Open connects to the configured store, runs its migrations and verifies it
// answers. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics) (*Backend, error) {
	b, err := open(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	if err := b.Store.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%s store is not reachable: %w", b.Name, err)
	}

	slog.Info("Ratings store opened", "backend", b.Name)
	return b, nil
}

func open(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Name:    config.BackendPostgres,
			Store:   postgres.NewRatingStore(pool),
			closeFn: func() error { pool.Close(); return nil },
		}, nil

	case config.BackendRedis:
		rdb, err := redis.NewClient(ctx, cfg.RedisURL, m)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:    config.BackendRedis,
			Store:   redis.NewRatingStore(rdb),
			closeFn: rdb.Close,
		}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:    config.BackendSQLite,
			Store:   sqlite.NewRatingStore(db),
			closeFn: func() error { return sqlite.Close(db) },
		}, nil

	case config.BackendSheets:
		store := sheets.NewRatingStore(sheets.Config{
			BaseURL:           cfg.SheetsBaseURL,
			SpreadsheetID:     cfg.SheetsSpreadsheetID,
			Worksheet:         cfg.SheetsWorksheet,
			Token:             cfg.SheetsToken,
			RequestsPerSecond: cfg.SheetsRequestsPerSecond,
		}, m)
		return &Backend{Name: config.BackendSheets, Store: store}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
