// Package service implements the request workflow on top of a db.Store:
// validation, id assignment, per-request serialization and notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"datadesk/internal/config"
	"datadesk/internal/db"
	"datadesk/internal/email"
	"datadesk/internal/models"
)

// Errors returned by the service. Handlers match them with errors.Is.
var (
	ErrNotFound   = errors.New("request not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Notifier queues outbound mail. *email.Dispatcher satisfies it.
type Notifier interface {
	Precheck(to []string) string
	Enqueue(msg email.Message) bool
}

// Service coordinates request operations.
type Service struct {
	store     db.Store
	notifier  Notifier
	templates *email.Templates
	directory *config.YAMLConfig
	locks     *keyedMutex

	now   func() time.Time
	newID func() string
}

// New creates a Service. notifier and directory may be nil.
func New(store db.Store, notifier Notifier, templates *email.Templates, directory *config.YAMLConfig) *Service {
	if templates == nil {
		templates = email.NewTemplates(&config.Config{})
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		templates: templates,
		directory: directory,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     generateID,
	}
}

func generateID() string {
	return "REQ-" + strings.ToUpper(uuid.NewString()[:8])
}

// errNoChange lets a mutation skip the store write.
var errNoChange = errors.New("no change")

// mutate runs fn on a fresh copy of the request while holding the request's
// lock and writes the result back. The store's version check still applies,
// so writers in other processes are detected as conflicts.
func (s *Service) mutate(ctx context.Context, id string, fn func(req *models.Request) error) (*models.Request, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, s.storeError(id, err)
	}

	if err := fn(req); err != nil {
		if errors.Is(err, errNoChange) {
			return req, nil
		}
		return nil, err
	}

	updated, err := s.store.ReplaceRequest(ctx, id, req)
	if err != nil {
		return nil, s.storeError(id, err)
	}
	return updated, nil
}

func (s *Service) storeError(id string, err error) error {
	switch {
	case errors.Is(err, db.ErrRequestNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, db.ErrVersionConflict):
		return fmt.Errorf("%w: request %s was modified concurrently, reload and retry", ErrConflict, id)
	case errors.Is(err, db.ErrDuplicateID):
		return fmt.Errorf("%w: request id %q already exists", ErrConflict, id)
	}
	return err
}
