// Package config loads process configuration from the environment. Domain
// configuration (fee schedule, limit table, risk thresholds) is constructed
// by the owning packages and passed explicitly into constructors, never
// read from ambient state.
package config

import "os"

// Config holds the service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DatabaseURL is the PostgreSQL connection string. Empty selects the
	// in-memory store (development only).
	DatabaseURL string

	// RedisURL is the counter store connection string. Empty selects the
	// no-op counter, making velocity a permanent non-signal.
	RedisURL string

	// Env names the deployment environment.
	Env string
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:        os.Getenv("PORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Env:         os.Getenv("ENVIRONMENT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	return cfg
}
