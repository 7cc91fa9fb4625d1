package db

import "fmt"

// ConnectionError indicates the database handle is invalid or unreachable.
type ConnectionError struct {
	URI           string
	Message       string
	OriginalError error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("connection error (%s): %s", e.URI, e.Message)
	}
	return "connection error: " + e.Message
}

// Unwrap returns the original error
func (e *ConnectionError) Unwrap() error {
	return e.OriginalError
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri, message string, original error) *ConnectionError {
	return &ConnectionError{URI: uri, Message: message, OriginalError: original}
}

// QueryError indicates a statement failed inside the database engine.
// It is recoverable: the reasoning loop uses it as context to revise
// the statement on the next planning pass.
type QueryError struct {
	Statement     string
	Message       string
	Raw           string
	OriginalError error
}

// Error implements the error interface
func (e *QueryError) Error() string {
	return "query error: " + e.Message
}

// Unwrap returns the original error
func (e *QueryError) Unwrap() error {
	return e.OriginalError
}

// PolicyViolation indicates a statement was rejected by the read-only
// guard before reaching the database. Never retried.
type PolicyViolation struct {
	Statement string
	Verb      string
}

// Error implements the error interface
func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: mutating statement rejected (verb %s)", e.Verb)
}
