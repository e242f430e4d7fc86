// Package config loads and validates FragmentForge runtime configuration.
//
// All configuration comes from the environment. Required secrets are
// validated up front so a misconfigured deployment fails at startup, not
// on the first run.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds the validated application configuration.
type Config struct {
	Environment string
	Port        string

	// Container API (remote sandbox gateway)
	ContainerAPIURL   string
	ContainerAPIToken string

	// Model providers
	AnthropicAPIKey string
	OpenAIAPIKey    string
	CodeModel       string
	RoutingModel    string

	// Persistence
	DatabaseURL string
	RedisURL    string

	// Auth
	JWTSecret string

	// Run tuning
	MaxIterations int
	SettleDelay   time.Duration
}

// ValidationError reports everything wrong with the environment at once.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return "config validation failed (" + strings.Join(parts, "; ") + ")"
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       getEnv("ENVIRONMENT", EnvDevelopment),
		Port:              getEnv("PORT", "8080"),
		ContainerAPIURL:   os.Getenv("CONTAINER_API_URL"),
		ContainerAPIToken: os.Getenv("CONTAINER_API_TOKEN"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		CodeModel:         getEnv("CODE_MODEL", "claude-sonnet-4-20250514"),
		RoutingModel:      getEnv("ROUTING_MODEL", "claude-haiku-4-5-20251001"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		MaxIterations:     getEnvInt("MAX_ITERATIONS", 25),
		SettleDelay:       getEnvDuration("CONTAINER_SETTLE_DELAY", 5*time.Second),
	}

	verr := &ValidationError{}

	if cfg.ContainerAPIURL == "" {
		verr.Missing = append(verr.Missing, "CONTAINER_API_URL")
	} else if _, err := url.ParseRequestURI(cfg.ContainerAPIURL); err != nil {
		verr.Invalid = append(verr.Invalid, "CONTAINER_API_URL")
	}
	if cfg.ContainerAPIToken == "" {
		verr.Missing = append(verr.Missing, "CONTAINER_API_TOKEN")
	}
	if cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey == "" {
		verr.Missing = append(verr.Missing, "ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	if cfg.MaxIterations <= 0 {
		verr.Invalid = append(verr.Invalid, "MAX_ITERATIONS")
	}

	// Production demands real secrets; development tolerates defaults.
	if cfg.IsProduction() {
		if len(cfg.JWTSecret) < 32 {
			verr.Invalid = append(verr.Invalid, "JWT_SECRET (min 32 chars in production)")
		}
		if cfg.DatabaseURL == "" {
			verr.Missing = append(verr.Missing, "DATABASE_URL")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-insecure-jwt-secret-do-not-deploy"
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production strictness.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// String renders a redacted summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s port=%s container_api=%s db=%t redis=%t anthropic=%t openai=%t",
		c.Environment, c.Port, c.ContainerAPIURL,
		c.DatabaseURL != "", c.RedisURL != "",
		c.AnthropicAPIKey != "", c.OpenAIAPIKey != "")
}
