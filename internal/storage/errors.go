package storage

import "errors"

var (
	// ErrSessionNotFound is returned for reads and deletes of an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidData rejects records without an id or session id.
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageInit   = errors.New("storage initialization failed")
	ErrFileOperation = errors.New("file operation failed")
)
