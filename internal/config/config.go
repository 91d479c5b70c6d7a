// Package config loads prefctl's configuration from YAML with environment
// overrides for secrets, following the teacher's internal/config +
// internal/mdloader/watcher.go split: a plain data struct, a Loader that
// parses it once at startup, and an fsnotify-backed hot reload for the
// pieces safe to change without a restart (adaptation policy defaults,
// registry schema path, rate-limit windows). JWT signing keys and the LLM
// provider key are deliberately excluded from the YAML shape and only
// ever populated from the environment via envconfig, so they can never
// end up committed to a config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is prefctl's top-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Adaptation AdaptationConfig `yaml:"adaptation"`
	Audit      AuditConfig      `yaml:"audit"`
	Registry   RegistryConfig   `yaml:"registry"`
	LLM        LLMConfig        `yaml:"llm"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Secrets is populated from the environment only (spec §6
	// "Environment/config ... All must be injectable"), never from YAML.
	Secrets Secrets `yaml:"-"`
}

// ServerConfig mirrors api.Config's tunables at the composition root.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"`
	CORSAllowAll    bool          `yaml:"cors_allow_all"`
	WebSocketOrigin bool          `yaml:"websocket_allow_all_origins"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
}

// StorageConfig selects and configures the repository backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" | "sqlite"
	Path   string `yaml:"path"`   // sqlite database file
}

// AuthConfig configures JWT issuance (spec §4.J).
type AuthConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// AdaptationConfig names the defaults adaptation policies fall back to
// when an agent has no explicit policy record (spec §4.D).
type AdaptationConfig struct {
	DefaultCooldown        time.Duration `yaml:"default_cooldown"`
	DefaultRateLimitWindow time.Duration `yaml:"default_rate_limit_window"`
	DefaultRateLimitMax    int           `yaml:"default_rate_limit_max"`
	DefaultMinConfidence   float64       `yaml:"default_min_confidence"`
}

// AuditConfig bounds GET /admin/audit (spec §4.J, §6).
type AuditConfig struct {
	DefaultWindow time.Duration `yaml:"default_window"`
	MaxWindow     time.Duration `yaml:"max_window"`
}

// RegistryConfig points at the preference registry's schema definitions
// (spec §4.A): the registry is loaded from the single file
// preferences.yaml inside SchemaDir.
type RegistryConfig struct {
	SchemaDir string `yaml:"schema_dir"`
}

// LLMConfig configures the governance layer's generation provider
// (spec §4.B "LLMUnavailable", "LLMLowConfidence").
type LLMConfig struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	Timeout            time.Duration `yaml:"timeout"`
	MinConfidence      float64       `yaml:"min_confidence"`
	CircuitBreakerTrip int           `yaml:"circuit_breaker_trip"`
}

// FeedbackConfig tunes when captured feedback triggers a fresh round of
// suggestion analysis (spec §4.D).
type FeedbackConfig struct {
	SuggestionThreshold int  `yaml:"suggestion_threshold"`
	AutoTriggerEnabled  bool `yaml:"auto_trigger_enabled"`
}

// ObservabilityConfig configures logging verbosity.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// Secrets are read exclusively from the environment (spec §6 "JWT
// secret... All must be injectable"), via envconfig with the PREFCTL_
// prefix so they never need to touch a YAML file.
type Secrets struct {
	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY" required:"true"`
	LLMAPIKey     string `envconfig:"LLM_API_KEY"`
	RedisURL      string `envconfig:"REDIS_URL"`
}

// Default returns a Config with the same zero-config-startup defaults the
// teacher's DefaultConfig provides, adapted to prefctl's domain.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            6777,
			RequestTimeout:  30 * time.Second,
			IdempotencyTTL:  time.Hour,
			DefaultPageSize: 25,
			MaxPageSize:     100,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "./prefctl.db",
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Adaptation: AdaptationConfig{
			DefaultCooldown:        time.Hour,
			DefaultRateLimitWindow: 24 * time.Hour,
			DefaultRateLimitMax:    10,
			DefaultMinConfidence:   0.7,
		},
		Audit: AuditConfig{
			DefaultWindow: 30 * 24 * time.Hour,
			MaxWindow:     90 * 24 * time.Hour,
		},
		Registry: RegistryConfig{
			SchemaDir: "./registry",
		},
		LLM: LLMConfig{
			Provider:           "none",
			Timeout:            10 * time.Second,
			MinConfidence:      0.6,
			CircuitBreakerTrip: 5,
		},
		Feedback: FeedbackConfig{
			SuggestionThreshold: 5,
			AutoTriggerEnabled:  true,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// Load reads path as YAML into a fresh Config seeded with Default()'s
// values, then overlays Secrets from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var secrets Secrets
	if err := envconfig.Process("prefctl", &secrets); err != nil {
		return nil, fmt.Errorf("load secrets from environment: %w", err)
	}
	cfg.Secrets = secrets

	return cfg, nil
}

// GenerateDefault writes a starter YAML config to path, matching the
// teacher's `init` command behavior.
func GenerateDefault(path string) error {
	cfg := Default()
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, raw, 0644)
}
