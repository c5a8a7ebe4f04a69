// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"regexp"
	"strings"
)

// metricNamespaceRe is the Prometheus metric name charset.
var metricNamespaceRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// ValidationError collects every invalid setting instead of failing fast.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the resolved configuration for internally consistent,
// in-range values.
func Validate(cfg Config) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Server.Listen == "" {
		add("server.listen must not be empty")
	}
	if cfg.Server.RateLimitPerMin < 0 {
		add("server.rate_limit_per_min must be >= 0, got %d", cfg.Server.RateLimitPerMin)
	}
	if cfg.Database.Path == "" {
		add("database.path must not be empty")
	}
	if cfg.Database.BusyTimeoutMS < 0 {
		add("database.busy_timeout_ms must be >= 0, got %d", cfg.Database.BusyTimeoutMS)
	}

	if cfg.Lease.TTLSeconds <= 0 {
		add("lease.ttl_seconds must be > 0, got %d", cfg.Lease.TTLSeconds)
	}
	if cfg.Lease.HeartbeatSeconds <= 0 {
		add("lease.heartbeat_seconds must be > 0, got %d", cfg.Lease.HeartbeatSeconds)
	}
	if cfg.Lease.HeartbeatSeconds > 0 && cfg.Lease.TTLSeconds > 0 &&
		cfg.Lease.HeartbeatSeconds >= cfg.Lease.TTLSeconds {
		add("lease.heartbeat_seconds (%d) must be shorter than lease.ttl_seconds (%d)",
			cfg.Lease.HeartbeatSeconds, cfg.Lease.TTLSeconds)
	}
	switch cfg.Lease.Backend {
	case "db":
	case "redis":
		if cfg.Lease.RedisAddr == "" {
			add("lease.redis_addr is required when lease.backend is redis")
		}
	default:
		add("lease.backend must be db or redis, got %q", cfg.Lease.Backend)
	}

	if cfg.Retry.DefaultMaxAttempts <= 0 {
		add("retry.default_max_attempts must be > 0, got %d", cfg.Retry.DefaultMaxAttempts)
	}

	switch cfg.Executor.AutoApprove {
	case "type", "off":
	default:
		add("executor.auto_approve must be type or off, got %q", cfg.Executor.AutoApprove)
	}

	if cfg.Maintenance.IntervalSeconds <= 0 {
		add("maintenance.interval_seconds must be > 0, got %d", cfg.Maintenance.IntervalSeconds)
	}
	if cfg.Maintenance.DeadLetterAfterHours <= 0 {
		add("maintenance.dead_letter_after_hours must be > 0, got %d", cfg.Maintenance.DeadLetterAfterHours)
	}
	if cfg.Maintenance.StaleAfterHours <= 0 {
		add("maintenance.stale_after_hours must be > 0, got %d", cfg.Maintenance.StaleAfterHours)
	}

	if !metricNamespaceRe.MatchString(cfg.Metrics.Namespace) {
		add("metrics.namespace must match %s, got %q", metricNamespaceRe, cfg.Metrics.Namespace)
	}

	if cfg.Query.DefaultPageSize <= 0 {
		add("query.default_page_size must be > 0, got %d", cfg.Query.DefaultPageSize)
	}
	if cfg.Query.MaxPageSize <= 0 {
		add("query.max_page_size must be > 0, got %d", cfg.Query.MaxPageSize)
	}
	if cfg.Query.DefaultPageSize > 0 && cfg.Query.MaxPageSize > 0 &&
		cfg.Query.DefaultPageSize > cfg.Query.MaxPageSize {
		add("query.default_page_size (%d) must not exceed query.max_page_size (%d)",
			cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
