// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config provides configuration management for the control plane:
// built-in defaults, an optional YAML file, and FOREMAN_* environment
// overrides, applied in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
	Log         Log         `yaml:"log"`
	Lease       Lease       `yaml:"lease"`
	Retry       Retry       `yaml:"retry"`
	Idempotency Idempotency `yaml:"idempotency"`
	Executor    Executor    `yaml:"executor"`
	StateGraph  StateGraph  `yaml:"state_graph"`
	Maintenance Maintenance `yaml:"maintenance"`
	Metrics     Metrics     `yaml:"metrics"`
	Query       Query       `yaml:"query"`
}

// Server holds the HTTP listener knobs.
type Server struct {
	Listen          string        `yaml:"listen"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Database points at the SQLite file backing the control plane.
type Database struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// Log configures the global structured logger.
type Log struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Lease configures the TTL lease engine.
type Lease struct {
	TTLSeconds       int    `yaml:"ttl_seconds"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
	AcquireRetries   int    `yaml:"acquire_retries"`
	Backend          string `yaml:"backend"` // "db" or "redis"
	RedisAddr        string `yaml:"redis_addr"`
}

// Retry configures attempt budgets for planned items.
type Retry struct {
	DefaultMaxAttempts int `yaml:"default_max_attempts"`
}

// Idempotency configures the at-most-once guard.
type Idempotency struct {
	Header      string   `yaml:"header"`
	RequiredOps []string `yaml:"required_ops"`
}

// Executor configures the apply pipeline.
type Executor struct {
	AutoApprove string `yaml:"auto_approve"` // "type" or "off"
}

// StateGraph optionally overrides the built-in transition graphs.
// Keys are source states, values the allowed targets.
type StateGraph struct {
	Orders map[string][]string `yaml:"orders"`
	Items  map[string][]string `yaml:"items"`
}

// Maintenance configures the background janitor.
type Maintenance struct {
	IntervalSeconds      int  `yaml:"interval_seconds"`
	DeadLetterAfterHours int  `yaml:"dead_letter_after_hours"`
	StaleAfterHours      int  `yaml:"stale_after_hours"`
	ReclaimLeases        bool `yaml:"reclaim_leases"`
	DeadLetter           bool `yaml:"dead_letter"`
	DetectStale          bool `yaml:"detect_stale"`
	EnableAlerts         bool `yaml:"enable_alerts"`
}

// Metrics toggles the Prometheus endpoint and names its metric prefix.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Query bounds the list surface.
type Query struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Listen:          ":8080",
			RateLimitPerMin: 300,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: Database{
			Path:          "foreman.db",
			BusyTimeoutMS: 5000,
		},
		Log: Log{
			Level:   "info",
			Service: "foreman",
		},
		Lease: Lease{
			TTLSeconds:       600,
			HeartbeatSeconds: 120,
			AcquireRetries:   3,
			Backend:          "db",
		},
		Retry: Retry{
			DefaultMaxAttempts: 3,
		},
		Idempotency: Idempotency{
			Header:      "Idempotency-Key",
			RequiredOps: []string{"propose", "submit", "submit-part", "finalize", "approve", "reject"},
		},
		Executor: Executor{
			AutoApprove: "type",
		},
		Maintenance: Maintenance{
			IntervalSeconds:      60,
			DeadLetterAfterHours: 48,
			StaleAfterHours:      24,
			ReclaimLeases:        true,
			DeadLetter:           true,
			DetectStale:          true,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "foreman",
		},
		Query: Query{
			DefaultPageSize: 50,
			MaxPageSize:     100,
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path when
// non-empty, then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
