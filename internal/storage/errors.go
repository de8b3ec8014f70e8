package storage

import "errors"

var (
	// ErrNotFound is returned when a requested run or outbox entry does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnsupportedDSN is returned by Open for a DSN scheme it cannot serve.
	ErrUnsupportedDSN = errors.New("storage: unsupported database url")
)
