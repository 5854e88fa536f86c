package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a segment, list or custom field does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProtected marks an entity that may not be deleted.
	ErrProtected = errors.New("protected entity")

	// ErrStaleResult signals that a fetch was superseded by a newer generation
	// and its results were discarded. It is not a user-facing failure.
	ErrStaleResult = errors.New("stale result discarded")

	// ErrDuplicateKey is returned when a custom field key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// SchemaResolutionError reports a condition referencing an unknown field.
type SchemaResolutionError struct {
	Field string
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// OperatorMismatchError reports an operator that is not legal for a field type.
type OperatorMismatchError struct {
	Field    string
	Type     SemanticType
	Operator string
}

func (e *OperatorMismatchError) Error() string {
	return fmt.Sprintf("operator %q is not valid for %s field %q", e.Operator, e.Type, e.Field)
}

// MissingValueError reports a value-requiring operator used without a value.
type MissingValueError struct {
	Field    string
	Operator string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("operator %q on field %q requires a value", e.Operator, e.Field)
}

// BatchFetchError reports a page request that kept failing after retries.
//
// The original underlying error can be accessed via errors.Unwrap.
type BatchFetchError struct {
	Batch    int
	Offset   int
	Limit    int
	Attempts int
	cause    error
}

// NewBatchFetchError wraps cause for the batch starting at offset.
func NewBatchFetchError(batch, offset, limit, attempts int, cause error) *BatchFetchError {
	return &BatchFetchError{Batch: batch, Offset: offset, Limit: limit, Attempts: attempts, cause: cause}
}

func (e *BatchFetchError) Error() string {
	return fmt.Sprintf("batch %d (rows %d-%d) failed after %d attempts: %v",
		e.Batch, e.Offset, e.Offset+e.Limit-1, e.Attempts, e.cause)
}

func (e *BatchFetchError) Unwrap() error { return e.cause }

// RepositoryConflictError reports a repository operation that conflicts with
// the stored state, such as deleting a protected list. Its message is meant to
// be surfaced to callers verbatim.
type RepositoryConflictError struct {
	Entity  string
	ID      string
	Message string
	cause   error
}

// NewRepositoryConflictError builds a conflict error wrapping cause.
func NewRepositoryConflictError(entity, id, message string, cause error) *RepositoryConflictError {
	return &RepositoryConflictError{Entity: entity, ID: id, Message: message, cause: cause}
}

func (e *RepositoryConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

func (e *RepositoryConflictError) Unwrap() error { return e.cause }
