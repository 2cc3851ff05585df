package db

import (
	"context"
	"fmt"
	"log"

	"datadesk/internal/config"
	"datadesk/internal/models"
)

// Store is a durable mapping from request id to Request.
//
// All operations read or write whole records. ReplaceRequest compares the
// incoming Version with the stored one and fails with ErrVersionConflict on
// mismatch; on success the stored version is incremented and returned.
type Store interface {
	ListRequests(ctx context.Context) ([]models.Request, error)
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	InsertRequest(ctx context.Context, req *models.Request) (*models.Request, error)
	ReplaceRequest(ctx context.Context, id string, req *models.Request) (*models.Request, error)
	Close() error
}

// Open creates the store selected by cfg.StoreBackend and writes seed
// requests when it is empty.
func Open(ctx context.Context, cfg *config.Config, seed []models.Request) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.StoreBackend {
	case "file", "":
		store, err = NewFileStore(cfg.DataFile)
	case "postgres":
		var pg *PostgresStore
		pg, err = NewPostgresStore(ctx, cfg.DatabaseURL)
		if err == nil {
			if err = pg.RunMigrations(cfg.DatabaseURL); err != nil {
				pg.Close()
			}
		}
		store = pg
	case "redis":
		store, err = NewRedisStore(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.SeedOnEmpty && len(seed) > 0 {
		n, err := SeedIfEmpty(ctx, store, seed)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
		if n > 0 {
			log.Printf("Store initialized with %d sample requests", n)
		}
	}

	return store, nil
}

// SeedIfEmpty inserts seed requests when the store holds none and returns
// how many were written.
func SeedIfEmpty(ctx context.Context, store Store, seed []models.Request) (int, error) {
	existing, err := store.ListRequests(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i := range seed {
		if _, err := store.InsertRequest(ctx, &seed[i]); err != nil {
			return i, fmt.Errorf("failed to seed request %s: %w", seed[i].ID, err)
		}
	}
	return len(seed), nil
}
