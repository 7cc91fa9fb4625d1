package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightsql-dev/insightsql/internal/db"
	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/internal/llm/provider"
)

// seedDresses creates a small catalog database and returns its URI.
func seedDresses(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dresses.db")
	handle, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.ExecContext(context.Background(), `
		CREATE TABLE dresses (id INTEGER PRIMARY KEY, name TEXT, price REAL);
		INSERT INTO dresses (name, price) VALUES
			('Evening Gown', 320),
			('Summer Dress', 45.5),
			('Cocktail Dress', 120),
			('Ball Gown', 580);
	`)
	require.NoError(t, err)

	return "sqlite:///" + path
}

func textResponse(content string) *provider.CompletionResponse {
	return &provider.CompletionResponse{Content: content, FinishReason: "stop"}
}

func toolResponse(statement string) *provider.CompletionResponse {
	args, _ := json.Marshal(map[string]string{"statement": statement})
	return &provider.CompletionResponse{
		FinishReason: "tool_calls",
		ToolCalls: []provider.ToolCall{{
			ID:   "call-1",
			Type: "function",
			Function: provider.FunctionCall{
				Name:      "run_sql",
				Arguments: args,
			},
		}},
	}
}

// newTestManager wires a manager to an in-memory backend and a scripted
// provider. The mock is returned for call inspection.
func newTestManager(t *testing.T, responses ...*provider.CompletionResponse) (*Manager, *provider.MockProvider) {
	t.Helper()

	mock := provider.NewMockProvider("scripted")
	mock.Responses = responses

	name := "scripted-" + t.Name()
	provider.RegisterFactory(name, func(map[string]any) (provider.Provider, error) {
		return mock, nil
	})

	m := NewManager(NewMemoryBackend(), ManagerConfig{
		Provider: name,
		Language: language.English,
	})
	t.Cleanup(func() { _ = m.Close() })

	return m, mock
}

func TestManagerOpenAndGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.Equal(t, language.English, sess.Language())
	assert.False(t, sess.Connected())

	again, err := m.Get(ctx, sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, again)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerGetRehydratesFromStorage(t *testing.T) {
	backend := NewMemoryBackend()
	cfg := ManagerConfig{Provider: "unused", Language: language.English}

	first := NewManager(backend, cfg)
	ctx := context.Background()

	sess, err := first.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.record(ctx, &Turn{ID: "t1", Role: RoleUser, Content: "hello", CreatedAt: time.Now().UTC()}))

	// A second manager over the same backend sees the turn log.
	second := NewManager(backend, cfg)
	restored, err := second.Get(ctx, sess.ID())
	require.NoError(t, err)

	history := restored.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
	assert.False(t, restored.Connected())
}

func TestConnectBuildsSchema(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	uri := seedDresses(t)

	sess, err := m.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Connect(ctx, sess, uri))
	assert.True(t, sess.Connected())

	schema := sess.Schema()
	require.NotNil(t, schema)
	assert.Contains(t, schema.TableNames(), "dresses")
	assert.Contains(t, schema.Render(), "price REAL")

	meta, err := m.backend.LoadMetadata(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, uri, meta.DatabaseURI)
}

func TestConnectAuthError(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")

	m := NewManager(NewMemoryBackend(), ManagerConfig{Provider: "gemini"})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)

	err = m.Connect(ctx, sess, seedDresses(t))
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "gemini", authErr.Provider)
	assert.False(t, sess.Connected(), "credential failure must leave the session unconnected")
}

func TestConnectKeepsPreviousConnectionOnFailure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	err = m.Connect(ctx, sess, "postgres://localhost/nope")
	var connErr *db.ConnectionError
	require.ErrorAs(t, err, &connErr)

	assert.True(t, sess.Connected(), "failed reconnect must not drop the working connection")
	assert.Contains(t, sess.Schema().TableNames(), "dresses")
}

func TestAskBeforeConnect(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)

	_, err = sess.Ask(ctx, "What is the most expensive dress?")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAskRecordsQuestionAndAnswer(t *testing.T) {
	m, _ := newTestManager(t,
		toolResponse("SELECT name, price FROM dresses ORDER BY price DESC LIMIT 1"),
		textResponse("The most expensive dress is the Ball Gown at 580."),
	)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	turn, err := sess.Ask(ctx, "What is the most expensive dress?")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, turn.Role)
	assert.Contains(t, turn.Content, "Ball Gown")
	assert.False(t, turn.Failed)
	assert.NotEmpty(t, turn.Steps, "assistant turns carry the reasoning trace")

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)

	// The log survives a round-trip through storage.
	stored, err := m.backend.LoadTurns(ctx, sess.ID())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Contains(t, stored[1].Content, "Ball Gown")
}

func TestAskEnforcesIndonesian(t *testing.T) {
	m, mock := newTestManager(t,
		textResponse("The catalog has four dresses in total."),
		textResponse("Katalog ini memiliki empat gaun secara keseluruhan."),
	)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))
	sess.SetLanguage(language.Indonesian)

	turn, err := sess.Ask(ctx, "Berapa banyak gaun yang ada?")
	require.NoError(t, err)
	assert.Equal(t, "Katalog ini memiliki empat gaun secara keseluruhan.", turn.Content)

	// The second call is the translation request.
	require.Len(t, mock.Calls, 2)
	assert.Contains(t, mock.Calls[1].Messages[0].Content, "Indonesian")
}

func TestAskKeepsDraftWhenTranslationFails(t *testing.T) {
	m, mock := newTestManager(t,
		textResponse("The catalog has four dresses."),
	)
	mock.Errors = []error{
		nil,
		provider.NewProviderError("scripted", provider.ErrorCodeServerError, "overloaded", nil),
	}
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))
	sess.SetLanguage(language.Indonesian)

	// The untranslated draft is better than losing the turn.
	turn, err := sess.Ask(ctx, "Berapa banyak gaun yang ada?")
	require.NoError(t, err)
	assert.False(t, turn.Failed)
	assert.Equal(t, "The catalog has four dresses.", turn.Content)
}

func TestSoftResetHidesButKeepsHistory(t *testing.T) {
	m, mock := newTestManager(t,
		textResponse("The Ball Gown costs 580."),
		textResponse("Yes, that was the Ball Gown."),
	)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	_, err = sess.Ask(ctx, "How much is the Ball Gown?")
	require.NoError(t, err)
	require.Len(t, sess.View(), 2)

	sess.SoftReset()
	assert.Empty(t, sess.View())
	assert.Len(t, sess.History(), 2, "soft reset keeps the full history")

	sess.SoftReset()
	assert.Empty(t, sess.View(), "repeated soft reset is a no-op")

	_, err = sess.Ask(ctx, "Which dress were we talking about?")
	require.NoError(t, err)
	assert.Len(t, sess.View(), 2)
	assert.Len(t, sess.History(), 4)

	// The planner still sees the turns hidden from display.
	planReq := mock.Calls[len(mock.Calls)-1]
	var sawHidden bool
	for _, msg := range planReq.Messages {
		if strings.Contains(msg.Content, "How much is the Ball Gown?") {
			sawHidden = true
		}
	}
	assert.True(t, sawHidden, "hidden turns must stay in the planner's history")
}

func TestHardResetTerminatesSession(t *testing.T) {
	m, _ := newTestManager(t, textResponse("Four dresses."))
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	_, err = sess.Ask(ctx, "How many dresses are there?")
	require.NoError(t, err)

	require.NoError(t, sess.HardReset(ctx))
	assert.False(t, sess.Connected())
	assert.Empty(t, sess.History())

	_, err = sess.Ask(ctx, "Still there?")
	assert.ErrorIs(t, err, ErrNotLive)

	err = m.Connect(ctx, sess, seedDresses(t))
	assert.ErrorIs(t, err, ErrNotLive)

	_, err = m.backend.LoadMetadata(ctx, sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoError(t, sess.HardReset(ctx), "repeated hard reset is a no-op")
}

func TestSessionPing(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, sess.Ping(ctx), ErrNotConnected)

	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))
	assert.NoError(t, sess.Ping(ctx))

	require.NoError(t, sess.HardReset(ctx))
	assert.ErrorIs(t, sess.Ping(ctx), ErrNotLive)
}

func TestAskRecordsFailedTurn(t *testing.T) {
	m, _ := newTestManager(t,
		toolResponse("DELETE FROM dresses"),
	)
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	turn, err := sess.Ask(ctx, "Remove every dress")
	var violation *db.PolicyViolation
	require.ErrorAs(t, err, &violation)

	require.NotNil(t, turn, "failed turns still enter the log")
	assert.True(t, turn.Failed)
	assert.Contains(t, turn.Content, "only read")
	assert.Len(t, sess.History(), 2)
}

// blockingProvider parks completions until released so a reset can be
// interleaved with an in-flight turn.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) CreateCompletion(ctx context.Context, _ provider.CompletionRequest) (*provider.CompletionResponse, error) {
	close(p.entered)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
	}
	return textResponse("A stale answer."), nil
}

func TestHardResetAbortsInFlightAsk(t *testing.T) {
	block := &blockingProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	name := "blocking-" + t.Name()
	provider.RegisterFactory(name, func(map[string]any) (provider.Provider, error) {
		return block, nil
	})

	m := NewManager(NewMemoryBackend(), ManagerConfig{Provider: name, Language: language.English})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, sess, seedDresses(t)))

	type outcome struct {
		turn *Turn
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		turn, err := sess.Ask(ctx, "How many dresses are there?")
		done <- outcome{turn, err}
	}()

	<-block.entered
	require.NoError(t, sess.HardReset(ctx))
	close(block.release)

	got := <-done
	require.Error(t, got.err)
	assert.Nil(t, got.turn)

	assert.Empty(t, sess.History(), "the reset must leave no stale turn behind")
	_, err = m.backend.LoadMetadata(ctx, sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	turns, err := m.backend.LoadTurns(ctx, sess.ID())
	require.NoError(t, err)
	assert.Empty(t, turns, "storage must stay wiped after the reset")

	// A result completing after the reset is rejected at the log boundary.
	err = sess.record(ctx, &Turn{ID: "late", Role: RoleAssistant, Content: "stale", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestConnectRejectedAfterConcurrentHardReset(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	name := "gated-" + t.Name()
	provider.RegisterFactory(name, func(map[string]any) (provider.Provider, error) {
		close(entered)
		<-release
		return provider.NewMockProvider("gated"), nil
	})

	m := NewManager(NewMemoryBackend(), ManagerConfig{Provider: name, Language: language.English})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()
	uri := seedDresses(t)

	sess, err := m.Open(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- m.Connect(ctx, sess, uri)
	}()

	<-entered
	require.NoError(t, sess.HardReset(ctx))
	close(release)

	assert.ErrorIs(t, <-done, ErrNotLive)
	assert.False(t, sess.Connected(), "a reset session must not end up holding a connection")
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, ManagerConfig{
		Provider:  "unused",
		Retention: time.Hour,
	})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	stale, err := m.Open(ctx)
	require.NoError(t, err)
	fresh, err := m.Open(ctx)
	require.NoError(t, err)

	// Backdate the stale session past the retention window.
	stale.meta.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, backend.SaveMetadata(ctx, stale.meta))

	require.NoError(t, m.sweep(ctx))

	_, err = backend.LoadMetadata(ctx, stale.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = backend.LoadMetadata(ctx, fresh.ID())
	assert.NoError(t, err)
}
