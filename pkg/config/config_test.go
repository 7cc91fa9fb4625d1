package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
provider: gemini
model: gemini-2.5-flash
database_uri: sqlite:///dresses.db
language: id
temperature: 0.5
session:
  backend: redis
  redis_addr: localhost:6379
  retention: 24h
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("expected model 'gemini-2.5-flash', got %s", cfg.Model)
	}
	if cfg.DatabaseURI != "sqlite:///dresses.db" {
		t.Errorf("expected sqlite URI, got %s", cfg.DatabaseURI)
	}
	if cfg.Language != "id" {
		t.Errorf("expected language 'id', got %s", cfg.Language)
	}
	if cfg.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %v", cfg.Temperature)
	}
	if time.Duration(cfg.Session.Retention) != 24*time.Hour {
		t.Errorf("expected 24h retention, got %v", cfg.Session.Retention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config failed validation: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "model: gemini-2.5-flash\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "gemini" {
		t.Errorf("expected default provider 'gemini', got %s", cfg.Provider)
	}
	if cfg.Temperature != 0.3 {
		t.Errorf("expected default temperature 0.3, got %v", cfg.Temperature)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.Language != "en" {
		t.Errorf("expected default language 'en', got %s", cfg.Language)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("expected default backend 'memory', got %s", cfg.Session.Backend)
	}
	if cfg.Server.MetricsPort != 8080 {
		t.Errorf("expected default metrics port 8080, got %d", cfg.Server.MetricsPort)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("INSIGHTSQL_DATABASE_URI", "sqlite:///env.db")
	t.Setenv("INSIGHTSQL_LANGUAGE", "id")

	path := writeConfig(t, `
provider: gemini
api_key: file-key
database_uri: sqlite:///file.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("environment key should win, got %s", cfg.APIKey)
	}
	if cfg.DatabaseURI != "sqlite:///env.db" {
		t.Errorf("environment URI should win, got %s", cfg.DatabaseURI)
	}
	if cfg.Language != "id" {
		t.Errorf("environment language should win, got %s", cfg.Language)
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"unknown provider", func(c *Config) { c.Provider = "llamacpp" }, true},
		{"unknown language", func(c *Config) { c.Language = "fr" }, true},
		{"redis without addr", func(c *Config) { c.Session.Backend = "redis" }, true},
		{"temperature out of range", func(c *Config) { c.Temperature = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
