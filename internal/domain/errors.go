package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrResourceNotFound   = fmt.Errorf("resource: %w", ErrNotFound)
	ErrEmptyResource      = fmt.Errorf("resource has no rows: %w", ErrInvalidInput)
	ErrOutsideScratchRoot = fmt.Errorf("path outside scratch root: %w", ErrInvalidInput)
	ErrSourceUnavailable  = fmt.Errorf("row source: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string // Field that failed validation
	Value      any    // The invalid value
	Constraint string // The constraint that was violated
	Message    string // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// UnsupportedGeometryError is returned when a geometry field carries a type
// outside the six accepted ones.
type UnsupportedGeometryError struct {
	Type string // The offending geometry type tag
}

// Error implements the error interface.
func (e *UnsupportedGeometryError) Error() string {
	return fmt.Sprintf("unsupported geometry type %q", e.Type)
}

// Unwrap returns the underlying error type.
func (e *UnsupportedGeometryError) Unwrap() error {
	return ErrInvalidInput
}

// SchemaError represents a column naming or mid-stream schema problem.
type SchemaError struct {
	Field   string // Offending field
	Message string // Error message
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *SchemaError) Unwrap() error {
	return ErrInvalidInput
}

// RemoteQueryError wraps a failed page fetch against the row source.
// The pipeline never retries these; retry policy belongs to the caller.
type RemoteQueryError struct {
	ResourceID string // Queried resource
	Offset     int    // Failing page offset
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("remote query for %s at offset %d: %v",
		e.ResourceID, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteQueryError) Unwrap() error {
	return e.Err
}

// EncodingError represents a single writer's failure. It aborts only the
// (format, EPSG) combination it belongs to.
type EncodingError struct {
	Format Format // Output format
	EPSG   int    // Target EPSG, zero for tabular outputs
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	if e.EPSG != 0 {
		return fmt.Sprintf("encoding %s (EPSG:%d): %v", e.Format, e.EPSG, e.Err)
	}
	return fmt.Sprintf("encoding %s: %v", e.Format, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
