package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"datadesk/internal/models"
)

// document is the on-disk layout of the file backend.
type document struct {
	Requests []models.Request `json:"requests"`
}

// FileStore keeps every request in one JSON document. Writes go through a
// temporary file and a rename so a crash never leaves a truncated document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens the JSON document at path, creating it if missing.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		if err := s.write(&document{Requests: []models.Request{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat data file: %w", err)
	}

	// Fail early on an unreadable document.
	if _, err := s.read(); err != nil {
		return nil, err
	}

	return s, nil
}

// ListRequests returns all requests in insertion order.
func (s *FileStore) ListRequests(ctx context.Context) ([]models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Requests, nil
}

// GetRequest retrieves a request by id.
func (s *FileStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	i := indexOf(doc.Requests, id)
	if i < 0 {
		return nil, ErrRequestNotFound
	}
	return &doc.Requests[i], nil
}

// InsertRequest appends a new request. The stored copy starts at version 1.
func (s *FileStore) InsertRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	if req.ID == "" {
		return nil, ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if indexOf(doc.Requests, req.ID) >= 0 {
		return nil, ErrDuplicateID
	}

	stored := req.Clone()
	stored.Version = 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	doc.Requests = append(doc.Requests, *stored)
	if err := s.write(doc); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// ReplaceRequest overwrites the stored request with id. The id of the
// incoming record is ignored.
func (s *FileStore) ReplaceRequest(ctx context.Context, id string, req *models.Request) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	i := indexOf(doc.Requests, id)
	if i < 0 {
		return nil, ErrRequestNotFound
	}
	if doc.Requests[i].Version != req.Version {
		return nil, ErrVersionConflict
	}

	stored := req.Clone()
	stored.ID = id
	stored.Version = doc.Requests[i].Version + 1
	stored.UpdatedAt = time.Now().UTC()
	doc.Requests[i] = *stored
	if err := s.write(doc); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}
	if doc.Requests == nil {
		doc.Requests = []models.Request{}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

func indexOf(requests []models.Request, id string) int {
	for i := range requests {
		if requests[i].ID == id {
			return i
		}
	}
	return -1
}
