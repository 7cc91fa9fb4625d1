// Package config loads application configuration from YAML with
// environment variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Provider Configuration
	Provider   string `yaml:"provider"` // gemini, openai, vertexai
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	GCPProject string `yaml:"gcp_project"`

	// Agent Configuration
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
	Language    string  `yaml:"language"` // en, id

	// Database Configuration
	DatabaseURI string `yaml:"database_uri"`

	// Session Configuration
	Session SessionConfig `yaml:"session"`

	// Server Configuration
	Server ServerConfig `yaml:"server"`

	// Rate Limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// SessionConfig holds session storage configuration
type SessionConfig struct {
	Backend         string   `yaml:"backend"` // memory, redis
	RedisAddr       string   `yaml:"redis_addr"`
	RedisPassword   string   `yaml:"redis_password"`
	RedisDB         int      `yaml:"redis_db"`
	Retention       Duration `yaml:"retention"`
	JanitorSchedule string   `yaml:"janitor_schedule"`
}

// Duration is a time.Duration that unmarshals from strings like "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ServerConfig holds the health and metrics endpoint configuration
type ServerConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// RateLimitConfig bounds outgoing LLM requests
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.JanitorSchedule == "" {
		c.Session.JanitorSchedule = "@every 10m"
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 8080
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 4
	}
}

// Environment variables win over file values for secrets, and fill in
// anything the file leaves blank.
func (c *Config) applyEnv() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Provider == "gemini" {
		c.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Provider == "openai" {
		c.APIKey = key
	}
	if c.GCPProject == "" {
		c.GCPProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if uri := os.Getenv("INSIGHTSQL_DATABASE_URI"); uri != "" {
		c.DatabaseURI = uri
	}
	if model := os.Getenv("INSIGHTSQL_MODEL"); model != "" {
		c.Model = model
	}
	if lang := os.Getenv("INSIGHTSQL_LANGUAGE"); lang != "" {
		c.Language = lang
	}
	if addr := os.Getenv("INSIGHTSQL_REDIS_ADDR"); addr != "" {
		c.Session.Backend = "redis"
		c.Session.RedisAddr = addr
	}
	if port := os.Getenv("INSIGHTSQL_METRICS_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.MetricsPort = n
		}
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider {
	case "gemini", "openai", "vertexai":
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}

	switch c.Language {
	case "en", "id":
	default:
		return fmt.Errorf("unsupported language %q", c.Language)
	}

	if c.Session.Backend == "redis" && c.Session.RedisAddr == "" {
		return fmt.Errorf("redis backend requires redis_addr")
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}
