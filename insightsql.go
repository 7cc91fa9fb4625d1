// Package insightsql assembles the conversational SQL agent from
// configuration: storage backend, session manager, and language model
// provider wiring.
package insightsql

import (
	"fmt"
	"time"

	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/pkg/config"
	"github.com/insightsql-dev/insightsql/pkg/session"
)

// New builds a session manager from configuration. The caller owns the
// returned manager and must Close it.
func New(cfg *config.Config) (*session.Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	lang, err := language.Parse(cfg.Language)
	if err != nil {
		return nil, err
	}

	return session.NewManager(backend, session.ManagerConfig{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		Temperature:    cfg.Temperature,
		MaxRetries:     cfg.MaxRetries,
		Language:       lang,
		Retention:      time.Duration(cfg.Session.Retention),
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	}), nil
}

func newBackend(cfg *config.Config) (session.StorageBackend, error) {
	switch cfg.Session.Backend {
	case "redis":
		backend, err := session.NewRedisBackend(session.RedisConfig{
			Addr:       cfg.Session.RedisAddr,
			Password:   cfg.Session.RedisPassword,
			DB:         cfg.Session.RedisDB,
			SessionTTL: time.Duration(cfg.Session.Retention),
		})
		if err != nil {
			return nil, fmt.Errorf("redis backend: %w", err)
		}
		return backend, nil
	case "memory", "":
		return session.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Session.Backend)
	}
}
