package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements StorageBackend with in-process maps.
// It is the default backend for single-node deployments and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	metadata map[string]*Metadata
	turns    map[string][]*Turn
	closed   bool
}

// NewMemoryBackend creates an empty in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		metadata: make(map[string]*Metadata),
		turns:    make(map[string][]*Turn),
	}
}

// SaveMetadata creates or updates session metadata.
func (b *MemoryBackend) SaveMetadata(_ context.Context, meta *Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	copied := *meta
	b.metadata[meta.ID] = &copied
	return nil
}

// LoadMetadata retrieves session metadata by ID.
func (b *MemoryBackend) LoadMetadata(_ context.Context, sessionID string) (*Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	meta, ok := b.metadata[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := *meta
	return &copied, nil
}

// DeleteSession removes a session and all its turns.
func (b *MemoryBackend) DeleteSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	delete(b.metadata, sessionID)
	delete(b.turns, sessionID)
	return nil
}

// ListSessions returns the metadata of all stored sessions ordered by ID.
func (b *MemoryBackend) ListSessions(_ context.Context) ([]*Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Metadata, 0, len(b.metadata))
	for _, meta := range b.metadata {
		copied := *meta
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendTurn adds a turn to a session.
func (b *MemoryBackend) AppendTurn(_ context.Context, sessionID string, turn *Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	copied := *turn
	b.turns[sessionID] = append(b.turns[sessionID], &copied)
	return nil
}

// LoadTurns retrieves all turns for a session in order.
func (b *MemoryBackend) LoadTurns(_ context.Context, sessionID string) ([]*Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	stored := b.turns[sessionID]
	out := make([]*Turn, 0, len(stored))
	for _, turn := range stored {
		copied := *turn
		out = append(out, &copied)
	}
	return out, nil
}

// Close releases resources held by the backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}
