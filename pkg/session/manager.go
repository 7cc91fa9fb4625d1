package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/insightsql-dev/insightsql/internal/agent"
	"github.com/insightsql-dev/insightsql/internal/db"
	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/internal/llm/provider"
	pkgobs "github.com/insightsql-dev/insightsql/pkg/observability"
)

// AuthError is returned by Connect when the language model provider
// rejects or lacks credentials. The database is never touched in that
// case.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Message)
}

// ManagerConfig configures session construction.
type ManagerConfig struct {
	// Provider is the registered LLM provider name (e.g. "gemini").
	Provider string
	// Model overrides the provider's default model when non-empty.
	Model string
	// APIKey is passed to the provider factory.
	APIKey string
	// Temperature is the sampling temperature for planning and synthesis.
	Temperature float64
	// MaxRetries bounds query attempts per turn (0 = default).
	MaxRetries int
	// RateLimitRPS throttles provider requests (0 = unlimited).
	RateLimitRPS float64
	// RateLimitBurst is the limiter's burst size.
	RateLimitBurst int
	// Language is the default output language for new sessions.
	Language language.Language
	// Retention is how long an idle session survives before the
	// janitor removes it (0 = keep forever).
	Retention time.Duration
}

// Manager owns session lifecycle. It is safe for concurrent use.
type Manager struct {
	backend StorageBackend
	cfg     ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*AgentSession

	cron *cron.Cron
}

// NewManager creates a session manager with the given storage backend.
func NewManager(backend StorageBackend, cfg ManagerConfig) *Manager {
	if cfg.Language == "" {
		cfg.Language = language.English
	}
	return &Manager{
		backend:  backend,
		cfg:      cfg,
		sessions: make(map[string]*AgentSession),
	}
}

// Open creates a new session. The session is live but not connected;
// Ask returns ErrNotConnected until Connect succeeds.
func (m *Manager) Open(ctx context.Context) (*AgentSession, error) {
	now := time.Now().UTC()
	meta := &Metadata{
		ID:        uuid.New().String(),
		Language:  m.cfg.Language,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.backend.SaveMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("save metadata: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &AgentSession{
		id:      meta.ID,
		backend: m.backend,
		meta:    meta,
		lang:    meta.Language,
		live:    true,
		ctx:     sessCtx,
		cancel:  cancel,
	}

	m.mu.Lock()
	m.sessions[meta.ID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get retrieves a session by ID, rehydrating its turn log from storage
// if it is not cached. A rehydrated session is live but not connected.
func (m *Manager) Get(ctx context.Context, sessionID string) (*AgentSession, error) {
	m.mu.RLock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.mu.RUnlock()
		return sess, nil
	}
	m.mu.RUnlock()

	meta, err := m.backend.LoadMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := m.backend.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &AgentSession{
		id:      meta.ID,
		backend: m.backend,
		meta:    meta,
		lang:    meta.Language,
		turns:   turns,
		live:    true,
		ctx:     sessCtx,
		cancel:  cancel,
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Connect attaches a session to the database at uri. The language
// model client is built first, so a credential problem surfaces as
// *AuthError before any database work. Database failures surface as
// *db.ConnectionError.
//
// On any failure the session keeps its previous connection, if one
// exists. The swap to the new handle is atomic.
func (m *Manager) Connect(ctx context.Context, sess *AgentSession, uri string) error {
	sess.mu.RLock()
	live := sess.live
	sess.mu.RUnlock()
	if !live {
		return ErrNotLive
	}

	p, err := provider.Create(m.cfg.Provider, map[string]any{
		"api_key": m.cfg.APIKey,
	})
	if err != nil {
		return &AuthError{Provider: m.cfg.Provider, Message: err.Error()}
	}
	if m.cfg.RateLimitRPS > 0 {
		p = provider.NewRateLimited(p, m.cfg.RateLimitRPS, m.cfg.RateLimitBurst)
	}

	handle, err := db.Open(ctx, uri)
	if err != nil {
		return err
	}

	schema, err := db.Describe(ctx, handle)
	if err != nil {
		_ = handle.Close()
		return err
	}

	var capOpts []agent.CapabilityOption
	if m.cfg.Model != "" {
		capOpts = append(capOpts, agent.WithModel(m.cfg.Model))
	}
	if m.cfg.Temperature > 0 {
		capOpts = append(capOpts, agent.WithTemperature(m.cfg.Temperature))
	}
	capability := agent.NewLLMCapability(p, capOpts...)

	var loopOpts []agent.LoopOption
	if m.cfg.MaxRetries > 0 {
		loopOpts = append(loopOpts, agent.WithMaxRetries(m.cfg.MaxRetries))
	}
	loop := agent.NewLoop(capability, db.NewTool(handle), schema.Render(), loopOpts...)

	sess.mu.Lock()
	// A hard reset may have landed while the connection was being built.
	if !sess.live {
		sess.mu.Unlock()
		_ = handle.Close()
		return ErrNotLive
	}
	old := sess.handle
	sess.handle = handle
	sess.schema = schema
	sess.loop = loop
	sess.policy = language.NewPolicy(capability)
	sess.meta.DatabaseURI = uri
	sess.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	if err := m.backend.SaveMetadata(ctx, sess.meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}

	pkgobs.RecordSessionConnected()
	return nil
}

// Delete hard-resets and forgets a session.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		return sess.HardReset(ctx)
	}
	return m.backend.DeleteSession(ctx, sessionID)
}

// StartJanitor schedules periodic removal of sessions idle longer than
// the configured retention. It is a no-op when retention is zero.
func (m *Manager) StartJanitor(schedule string) error {
	if m.cfg.Retention <= 0 {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := m.sweep(context.Background()); err != nil {
			log.Printf("[session] janitor sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

// sweep removes sessions whose last activity is past retention.
func (m *Manager) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.Retention)

	metas, err := m.backend.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.Delete(ctx, meta.ID); err != nil {
			log.Printf("[session] expire %s: %v", meta.ID, err)
		}
	}
	return nil
}

// Close stops the janitor, hard-resets cached sessions, and closes the
// storage backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	sessions := make([]*AgentSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*AgentSession)
	m.mu.Unlock()

	ctx := context.Background()
	for _, sess := range sessions {
		_ = sess.HardReset(ctx)
	}
	return m.backend.Close()
}
