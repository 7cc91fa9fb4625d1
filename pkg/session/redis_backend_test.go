package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/insightsql-dev/insightsql/internal/language"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, backend
}

func TestRedisBackend_SaveAndLoadMetadata(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	meta := &Metadata{
		ID:          "sess-123",
		DatabaseURI: "sqlite:///dresses.db",
		Language:    language.Indonesian,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		TurnCount:   0,
	}

	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	loaded, err := backend.LoadMetadata(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}

	if loaded.ID != meta.ID {
		t.Errorf("ID mismatch: got %s, want %s", loaded.ID, meta.ID)
	}
	if loaded.DatabaseURI != meta.DatabaseURI {
		t.Errorf("DatabaseURI mismatch: got %s, want %s", loaded.DatabaseURI, meta.DatabaseURI)
	}
	if loaded.Language != language.Indonesian {
		t.Errorf("Language mismatch: got %s, want %s", loaded.Language, language.Indonesian)
	}
}

func TestRedisBackend_LoadMetadataNotFound(t *testing.T) {
	_, backend := setupMiniredis(t)

	_, err := backend.LoadMetadata(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisBackend_AppendAndLoadTurns(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	turns := []*Turn{
		{ID: "t1", Role: RoleUser, Content: "What is the most expensive dress?", CreatedAt: time.Now().UTC()},
		{ID: "t2", Role: RoleAssistant, Content: "The Ball Gown, priced at 580.", CreatedAt: time.Now().UTC()},
	}
	for _, turn := range turns {
		if err := backend.AppendTurn(ctx, "sess-123", turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	loaded, err := backend.LoadTurns(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadTurns failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(loaded))
	}
	if loaded[0].ID != "t1" || loaded[1].ID != "t2" {
		t.Errorf("turn order not preserved: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if loaded[1].Role != RoleAssistant {
		t.Errorf("Role mismatch: got %s", loaded[1].Role)
	}
}

func TestRedisBackend_DeleteSession(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	meta := &Metadata{ID: "sess-del", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}
	if err := backend.AppendTurn(ctx, "sess-del", &Turn{ID: "t1", Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if err := backend.DeleteSession(ctx, "sess-del"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := backend.LoadMetadata(ctx, "sess-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
	turns, err := backend.LoadTurns(ctx, "sess-del")
	if err != nil {
		t.Fatalf("LoadTurns failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected no turns after delete, got %d", len(turns))
	}
}

func TestRedisBackend_ListSessions(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	for _, id := range []string{"sess-b", "sess-a", "sess-c"} {
		meta := &Metadata{ID: id, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		if err := backend.SaveMetadata(ctx, meta); err != nil {
			t.Fatalf("SaveMetadata failed: %v", err)
		}
	}

	sessions, err := backend.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"sess-a", "sess-b", "sess-c"} {
		if sessions[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, sessions[i].ID, want)
		}
	}
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "test:", time.Minute)
	t.Cleanup(func() { _ = backend.Close() })

	ctx := context.Background()
	meta := &Metadata{ID: "sess-ttl", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := backend.LoadMetadata(ctx, "sess-ttl"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after TTL, got %v", err)
	}

	// Expired sessions fall out of the listing and the index is repaired.
	sessions, err := backend.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions after TTL, got %d", len(sessions))
	}
}

func TestRedisBackend_ClosedOperations(t *testing.T) {
	_, backend := setupMiniredis(t)

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := backend.SaveMetadata(ctx, &Metadata{ID: "x"}); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("SaveMetadata: expected ErrStorageClosed, got %v", err)
	}
	if _, err := backend.LoadTurns(ctx, "x"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("LoadTurns: expected ErrStorageClosed, got %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
