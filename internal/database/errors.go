package database

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by mutations on a DB after Stop.
	ErrStopped = errors.New("database is stopped")
	// ErrInvalidIndex is returned when a record carries a negative index.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrFieldCount is returned when a line doesn't hold the expected number
	// of fields.
	ErrFieldCount = errors.New("unexpected number of fields")

	errEmptyIndexFile = errors.New("index file is empty")
	errNoDeserializer = errors.New("deserializer is required")
)

// NotFoundError is returned by Update and Delete when no record has the
// requested index.
type NotFoundError struct {
	Index int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no data was found with id of %d", e.Index)
}

// DeserializationError is returned when a record file holds content that
// cannot be turned back into a record.
type DeserializationError struct {
	Path string
	Data string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize %s with data (%q): %v", e.Path, e.Data, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned by New when the index counter file exists
// but cannot be used.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("failed to read %s in DB constructor: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
