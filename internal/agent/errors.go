package agent

import "fmt"

// RetryExhausted indicates the loop hit its retry ceiling. The last
// observed error is surfaced to the user instead of looping forever.
type RetryExhausted struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface
func (e *RetryExhausted) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("retries exhausted after %d attempts", e.Attempts)
}

// Unwrap returns the last observed error
func (e *RetryExhausted) Unwrap() error {
	return e.LastErr
}

// LoopInternalError indicates the reasoning capability itself failed.
// Never retried; surfaced immediately.
type LoopInternalError struct {
	Phase string
	Err   error
}

// Error implements the error interface
func (e *LoopInternalError) Error() string {
	return fmt.Sprintf("reasoning capability failed during %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error
func (e *LoopInternalError) Unwrap() error {
	return e.Err
}
