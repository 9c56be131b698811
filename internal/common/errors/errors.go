// Package errors provides standardized error handling for the digest pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Source fetch errors
	ErrCodeTransientSource ErrorCode = "TRANSIENT_SOURCE_ERROR"
	ErrCodeMalformedEntry  ErrorCode = "MALFORMED_ENTRY"

	// Persistence errors
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodePersistenceConflict      ErrorCode = "PERSISTENCE_CONFLICT"
	ErrCodeSubscriberExists         ErrorCode = "SUBSCRIBER_EXISTS"
	ErrCodeSubscriberNotFound       ErrorCode = "SUBSCRIBER_NOT_FOUND"

	// Delivery errors
	ErrCodeDelivery ErrorCode = "DELIVERY_ERROR"
	ErrCodeAuth     ErrorCode = "AUTH_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewTransientSourceError creates a retryable job-source error. The source
// client retries these with backoff up to its attempt cap, then surfaces the
// subscriber as FetchFailed for the tick.
func NewTransientSourceError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransientSource,
		Message:   "Job source request failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedEntryError flags a single bad entry inside an otherwise valid
// source response. The entry is dropped; the fetch continues.
func NewMalformedEntryError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedEntry,
		Message:   "Source entry missing required fields",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable database insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceConflict marks a concurrent duplicate insert. This is the
// expected outcome of losing an insert-if-absent race: the row is already
// present and the caller proceeds as if it had inserted it.
func NewPersistenceConflict(fingerprint string) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceConflict,
		Message:   "Row already present",
		Details:   fmt.Sprintf("fingerprint: %s", fingerprint),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriberExistsError creates a non-retryable registration conflict.
func NewSubscriberExistsError(email string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriberExists,
		Message:   "Subscriber already registered",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriberNotFoundError creates a non-retryable missing-subscriber error.
func NewSubscriberNotFoundError(email string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriberNotFound,
		Message:   "Subscriber not found",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryError creates a delivery error. The dispatcher retries once
// immediately; after that the subscriber is NotifyFailed for the tick and
// picked up again on the next run.
func NewDeliveryError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDelivery,
		Message:   "Digest delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthError creates a fatal authentication error for an integration. It is
// surfaced to the operator and never retried within the tick; other
// subscribers keep processing.
func NewAuthError(integration, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuth,
		Message:   fmt.Sprintf("Authentication failed for %s", integration),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// GetRetryCount returns the in-tick retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransientSource,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeQueryExecutionFailed:
		return 3

	case ErrCodeDelivery:
		return 1 // one immediate retry, then wait for the next tick

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// HasCode reports whether err is a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// AsStandard normalizes any error to a StandardError.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
