package store

import (
	"errors"

	"packfs/internal/record"
)

// ErrNotFound is returned when a read or delete names a path with no live record.
var ErrNotFound = errors.New("object not found")

// ErrAlreadyExists is returned when a write without overwrite names an already stored path.
var ErrAlreadyExists = errors.New("object already exists")

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("store is closed")

// ErrWriterClosed is returned when writing through a streaming writer that was already closed.
var ErrWriterClosed = errors.New("writer is closed")

// ErrMalformed is returned when recovery encounters an undecodable record.
var ErrMalformed = record.ErrMalformed
