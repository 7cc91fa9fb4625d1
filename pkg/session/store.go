package session

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// StorageBackend abstracts session persistence.
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// SaveMetadata creates or updates session metadata.
	SaveMetadata(ctx context.Context, meta *Metadata) error

	// LoadMetadata retrieves session metadata by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadMetadata(ctx context.Context, sessionID string) (*Metadata, error)

	// DeleteSession removes a session and all its turns.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns the metadata of all stored sessions,
	// ordered by ID.
	ListSessions(ctx context.Context) ([]*Metadata, error)

	// AppendTurn adds a turn to a session (append-only).
	AppendTurn(ctx context.Context, sessionID string, turn *Turn) error

	// LoadTurns retrieves all turns for a session in order.
	LoadTurns(ctx context.Context, sessionID string) ([]*Turn, error)

	// Close releases any resources held by the backend.
	Close() error
}
