package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightsql-dev/insightsql/internal/agent"
	"github.com/insightsql-dev/insightsql/internal/db"
	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/internal/llm/provider"
	pkgobs "github.com/insightsql-dev/insightsql/pkg/observability"
)

// Lifecycle errors.
var (
	// ErrNotConnected is returned when asking before a successful Connect.
	ErrNotConnected = errors.New("session has no connected database")
	// ErrNotLive is returned when operating on a hard-reset session.
	ErrNotLive = errors.New("session has been terminated")
)

// AgentSession is one user's conversation with the agent. It owns the
// database handle, the append-only turn log, and the display boundary
// that soft resets move.
//
// AgentSession is safe for concurrent use, but turns are serialized:
// a second Ask blocks until the first completes.
type AgentSession struct {
	id      string
	backend StorageBackend

	// askMu serializes turns; mu guards session state.
	askMu sync.Mutex
	mu    sync.RWMutex

	meta   *Metadata
	lang   language.Language
	policy *language.Policy
	loop   *agent.Loop
	handle *sql.DB
	schema *db.SchemaSnapshot

	turns      []*Turn
	viewOffset int

	live   bool
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the unique session identifier.
func (s *AgentSession) ID() string {
	return s.id
}

// Language returns the configured output language.
func (s *AgentSession) Language() language.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

// SetLanguage changes the output language for subsequent answers.
// Existing turns are never rewritten.
func (s *AgentSession) SetLanguage(l language.Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lang = l
	s.meta.Language = l
}

// Connected reports whether the session holds a usable database handle.
func (s *AgentSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live && s.handle != nil
}

// Ping verifies the session's database connection is still usable.
func (s *AgentSession) Ping(ctx context.Context) error {
	s.mu.RLock()
	live, handle := s.live, s.handle
	s.mu.RUnlock()

	if !live {
		return ErrNotLive
	}
	if handle == nil {
		return ErrNotConnected
	}
	return handle.PingContext(ctx)
}

// Schema returns the cached schema snapshot, or nil before connect.
func (s *AgentSession) Schema() *db.SchemaSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// History returns every turn the session has recorded, including turns
// hidden by soft resets.
func (s *AgentSession) History() []*Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// View returns the turns recorded since the last soft reset. This is
// what a UI should display.
func (s *AgentSession) View() []*Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Turn, len(s.turns)-s.viewOffset)
	copy(out, s.turns[s.viewOffset:])
	return out
}

// Ask runs one conversational turn: the question and the resulting
// answer are appended to the log, in that order. The reasoning loop
// sees the full history, including turns hidden by soft resets.
//
// A failed turn is still recorded, with Failed set and the failure
// description as content. The error is returned alongside.
func (s *AgentSession) Ask(ctx context.Context, question string) (*Turn, error) {
	s.askMu.Lock()
	defer s.askMu.Unlock()

	s.mu.RLock()
	live, loop, lang, policy, sessCtx := s.live, s.loop, s.lang, s.policy, s.ctx
	history := historyMessages(s.turns)
	s.mu.RUnlock()

	if !live {
		return nil, ErrNotLive
	}
	if loop == nil {
		return nil, ErrNotConnected
	}

	// A hard reset cancels sessCtx and must abort an in-flight turn.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	if err := s.record(ctx, &Turn{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   question,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := loop.Run(runCtx, question, history)
	if err != nil {
		// Cancellation aborts the turn before an answer exists.
		pkgobs.RecordTurn("cancelled", time.Since(start))
		return nil, err
	}

	answer := result.Answer
	failed := result.State == agent.StateFailed
	if failed {
		answer = failureText(result.Err)
	} else if policy != nil {
		enforced, err := policy.Enforce(runCtx, answer, lang)
		if err != nil {
			// Keep the draft rather than losing the turn.
			log.Printf("[session] language enforcement for %s: %v", s.id, err)
			answer = result.Answer
		} else {
			answer = enforced
		}
	}

	turn := &Turn{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   answer,
		Steps:     result.Steps,
		Failed:    failed,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.record(ctx, turn); err != nil {
		return nil, err
	}

	if failed {
		pkgobs.RecordTurn("failed", time.Since(start))
		return turn, result.Err
	}
	pkgobs.RecordTurn("ok", time.Since(start))
	return turn, nil
}

// SoftReset clears the visible conversation while keeping the full
// history, the database connection, and the schema. Calling it twice
// in a row is a no-op the second time.
func (s *AgentSession) SoftReset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live || s.viewOffset == len(s.turns) {
		return
	}
	s.viewOffset = len(s.turns)
	pkgobs.RecordSessionReset("soft")
}

// HardReset terminates the session: the in-flight turn (if any) is
// cancelled, the database handle is closed, the log is wiped from
// storage, and every subsequent operation returns ErrNotLive.
func (s *AgentSession) HardReset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return nil
	}
	s.live = false
	s.cancel()

	var closeErr error
	if s.handle != nil {
		closeErr = s.handle.Close()
		s.handle = nil
	}
	s.loop = nil
	s.schema = nil
	s.turns = nil
	s.viewOffset = 0

	if err := s.backend.DeleteSession(ctx, s.id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	pkgobs.RecordSessionReset("hard")
	return closeErr
}

// record appends a turn to memory and storage and refreshes metadata.
func (s *AgentSession) record(ctx context.Context, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A hard reset between loop completion and recording must not
	// resurrect the wiped log.
	if !s.live {
		return ErrNotLive
	}

	if err := s.backend.AppendTurn(ctx, s.id, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	s.turns = append(s.turns, turn)
	s.meta.TurnCount = len(s.turns)
	s.meta.UpdatedAt = time.Now().UTC()

	if err := s.backend.SaveMetadata(ctx, s.meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// historyMessages converts the turn log into chat messages for the
// planner. Reasoning traces stay out of the history; only questions
// and final answers carry across turns.
func historyMessages(turns []*Turn) []provider.Message {
	messages := make([]provider.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Failed {
			continue
		}
		messages = append(messages, provider.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}

// failureText renders a loop failure as a user-facing sentence. Raw
// detail stays in the trace; this is the concise diagnosis.
func failureText(err error) string {
	var exhausted *agent.RetryExhausted
	var violation *db.PolicyViolation
	var provErr *provider.ProviderError
	switch {
	case errors.As(err, &exhausted):
		return fmt.Sprintf("I could not produce a working query after %d attempts. Try rephrasing the question.", exhausted.Attempts)
	case errors.As(err, &violation):
		return fmt.Sprintf("I can only read from this database. The statement %q would modify it.", violation.Statement)
	case errors.As(err, &provErr):
		switch provErr.Code {
		case provider.ErrorCodeAuthentication:
			return "The language model rejected the API credentials. Check the configured key."
		case provider.ErrorCodeRateLimit:
			return "The language model quota is exhausted right now. Wait a moment and try again."
		case provider.ErrorCodeTimeout:
			return "The language model did not respond in time. Try again."
		default:
			return "The language model request failed. Try again."
		}
	case err != nil:
		return "Something went wrong while reasoning about your question. Please try again."
	default:
		return "I was unable to answer that question."
	}
}
