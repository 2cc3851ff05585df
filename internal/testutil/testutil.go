// Package testutil provides test utilities and helpers.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"datadesk/internal/db"
	"datadesk/internal/models"
)

// FileStore creates a file-backed store in a temporary directory.
func FileStore(t *testing.T) *db.FileStore {
	t.Helper()

	store, err := db.NewFileStore(filepath.Join(t.TempDir(), "database.json"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// PostgresStore connects to TEST_DATABASE_URL, runs migrations and removes
// TEST- records on cleanup. The test is skipped when the variable is unset.
func PostgresStore(t *testing.T) *db.PostgresStore {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := db.NewPostgresStore(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// Run migrations
	if err := store.RunMigrations(connString); err != nil {
		store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Pool.Exec(ctx, "DELETE FROM requests WHERE id LIKE 'TEST-%'")
		store.Close()
	})
	return store
}

// SampleRequest returns a request with two departments, one initial row and
// no submissions.
func SampleRequest(id string) *models.Request {
	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	return &models.Request{
		ID:          id,
		Title:       "Meter inventory",
		Format:      "Excel",
		Departments: []string{"Distribution", "Maintenance"},
		Emails:      []string{"dist@example.com"},
		Reminders:   models.Reminders{Frequency: models.FrequencyWeekly},
		Columns:     []string{"A", "B"},
		InitialRows: []models.Row{{"A": "1", "B": ""}},
		Submissions: []models.Submission{},
		Status:      models.StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Insert stores req and fails the test on error.
func Insert(t *testing.T, store db.Store, req *models.Request) *models.Request {
	t.Helper()

	created, err := store.InsertRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to insert request %s: %v", req.ID, err)
	}
	return created
}
