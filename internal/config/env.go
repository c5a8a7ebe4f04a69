// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/foreman/internal/log"
)

// applyEnv layers FOREMAN_* environment variables over the current values.
func applyEnv(cfg *Config) {
	cfg.Server.Listen = envString("FOREMAN_LISTEN", cfg.Server.Listen)
	cfg.Server.RateLimitPerMin = envInt("FOREMAN_RATE_LIMIT_PER_MIN", cfg.Server.RateLimitPerMin)
	cfg.Server.ShutdownTimeout = envDuration("FOREMAN_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Database.Path = envString("FOREMAN_DB_PATH", cfg.Database.Path)
	cfg.Database.BusyTimeoutMS = envInt("FOREMAN_DB_BUSY_TIMEOUT_MS", cfg.Database.BusyTimeoutMS)

	cfg.Log.Level = envString("FOREMAN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = envString("FOREMAN_LOG_SERVICE", cfg.Log.Service)

	cfg.Lease.TTLSeconds = envInt("FOREMAN_LEASE_TTL_SECONDS", cfg.Lease.TTLSeconds)
	cfg.Lease.HeartbeatSeconds = envInt("FOREMAN_LEASE_HEARTBEAT_SECONDS", cfg.Lease.HeartbeatSeconds)
	cfg.Lease.AcquireRetries = envInt("FOREMAN_LEASE_ACQUIRE_RETRIES", cfg.Lease.AcquireRetries)
	cfg.Lease.Backend = envString("FOREMAN_LEASE_BACKEND", cfg.Lease.Backend)
	cfg.Lease.RedisAddr = envString("FOREMAN_LEASE_REDIS_ADDR", cfg.Lease.RedisAddr)

	cfg.Retry.DefaultMaxAttempts = envInt("FOREMAN_RETRY_MAX_ATTEMPTS", cfg.Retry.DefaultMaxAttempts)

	cfg.Idempotency.Header = envString("FOREMAN_IDEMPOTENCY_HEADER", cfg.Idempotency.Header)
	if ops := envString("FOREMAN_IDEMPOTENCY_REQUIRED_OPS", ""); ops != "" {
		cfg.Idempotency.RequiredOps = splitList(ops)
	}

	cfg.Executor.AutoApprove = envString("FOREMAN_AUTO_APPROVE", cfg.Executor.AutoApprove)

	cfg.Maintenance.IntervalSeconds = envInt("FOREMAN_MAINT_INTERVAL_SECONDS", cfg.Maintenance.IntervalSeconds)
	cfg.Maintenance.DeadLetterAfterHours = envInt("FOREMAN_MAINT_DEAD_LETTER_AFTER_HOURS", cfg.Maintenance.DeadLetterAfterHours)
	cfg.Maintenance.StaleAfterHours = envInt("FOREMAN_MAINT_STALE_AFTER_HOURS", cfg.Maintenance.StaleAfterHours)
	cfg.Maintenance.ReclaimLeases = envBool("FOREMAN_MAINT_RECLAIM_LEASES", cfg.Maintenance.ReclaimLeases)
	cfg.Maintenance.DeadLetter = envBool("FOREMAN_MAINT_DEAD_LETTER", cfg.Maintenance.DeadLetter)
	cfg.Maintenance.DetectStale = envBool("FOREMAN_MAINT_DETECT_STALE", cfg.Maintenance.DetectStale)
	cfg.Maintenance.EnableAlerts = envBool("FOREMAN_MAINT_ENABLE_ALERTS", cfg.Maintenance.EnableAlerts)

	cfg.Metrics.Enabled = envBool("FOREMAN_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Namespace = envString("FOREMAN_METRICS_NAMESPACE", cfg.Metrics.Namespace)

	cfg.Query.DefaultPageSize = envInt("FOREMAN_QUERY_DEFAULT_PAGE_SIZE", cfg.Query.DefaultPageSize)
	cfg.Query.MaxPageSize = envInt("FOREMAN_QUERY_MAX_PAGE_SIZE", cfg.Query.MaxPageSize)
}

// envString reads a string override; empty values keep the current setting.
func envString(key, current string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		lg := log.WithComponent("config")
		lg.Debug().
			Str("key", key).Str("source", "environment").Msg("using environment variable")
		return v
	}
	return current
}

// envInt reads an integer override, keeping the current value on parse errors.
func envInt(key string, current int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		lg := log.WithComponent("config")
		lg.Warn().
			Str("key", key).Str("value", v).Msg("invalid integer, keeping current value")
		return current
	}
	return i
}

// envBool reads a boolean override, keeping the current value on parse errors.
func envBool(key string, current bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		lg := log.WithComponent("config")
		lg.Warn().
			Str("key", key).Str("value", v).Msg("invalid boolean, keeping current value")
		return current
	}
	return b
}

// envDuration reads a Go duration override, keeping the current value on
// parse errors.
func envDuration(key string, current time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		lg := log.WithComponent("config")
		lg.Warn().
			Str("key", key).Str("value", v).Msg("invalid duration, keeping current value")
		return current
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
