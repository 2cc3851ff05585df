package db

import "errors"

// Domain-level store error sentinels.
var (
	ErrRequestNotFound = errors.New("request not found")
	ErrDuplicateID     = errors.New("request id already exists")
	ErrVersionConflict = errors.New("request was modified concurrently")
	ErrMissingID       = errors.New("request id is required")
)
