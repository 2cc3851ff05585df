package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datadesk/internal/models"
	"datadesk/migrations"
)

// PostgresStore keeps one row per request with the record held as JSONB.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a new database connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{Pool: pool}, nil
}

// RunMigrations runs all embedded SQL migrations.
func (d *PostgresStore) RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (d *PostgresStore) Close() error {
	d.Pool.Close()
	return nil
}

// ListRequests retrieves all requests in insertion order.
func (d *PostgresStore) ListRequests(ctx context.Context) ([]models.Request, error) {
	query := `SELECT data, version FROM requests ORDER BY seq ASC`

	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.Request{}
	for rows.Next() {
		var (
			data    []byte
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, err
		}
		req, err := decodeRequest(data, version)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}

	return requests, rows.Err()
}

// GetRequest retrieves a request by id.
func (d *PostgresStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT data, version FROM requests WHERE id = $1`

	var (
		data    []byte
		version int64
	)
	err := d.Pool.QueryRow(ctx, query, id).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeRequest(data, version)
}

// InsertRequest creates a new request at version 1.
func (d *PostgresStore) InsertRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	if req.ID == "" {
		return nil, ErrMissingID
	}

	stored := req.Clone()
	stored.Version = 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	query := `
		INSERT INTO requests (id, status, version, data, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := d.Pool.Exec(ctx, query, stored.ID, stored.Status, data, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicateID
	}

	return stored, nil
}

// ReplaceRequest overwrites the request with id if its version still matches.
func (d *PostgresStore) ReplaceRequest(ctx context.Context, id string, req *models.Request) (*models.Request, error) {
	stored := req.Clone()
	stored.ID = id
	stored.Version = req.Version + 1
	stored.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	query := `
		UPDATE requests
		SET data = $3, status = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2
	`
	tag, err := d.Pool.Exec(ctx, query, id, req.Version, data, stored.Status, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 1 {
		return stored, nil
	}

	var exists bool
	if err := d.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRequestNotFound
	}
	return nil, ErrVersionConflict
}

// decodeRequest unmarshals a stored document; the version column is authoritative.
func decodeRequest(data []byte, version int64) (*models.Request, error) {
	var req models.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	req.Version = version
	return &req, nil
}
