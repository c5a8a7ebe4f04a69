// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the work-order control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric unless Configure overrides it.
const DefaultNamespace = "foreman"

// No cardinality explosion: labels are enums (states, event kinds, types),
// never order/item/agent ids.

var (
	// Counters

	// TransitionsTotal counts committed state transitions by entity and target state.
	TransitionsTotal *prometheus.CounterVec

	// LeaseAcquiredTotal counts successful lease acquisitions.
	LeaseAcquiredTotal prometheus.Counter

	// LeaseConflictTotal counts lost acquisition races and ownership mismatches.
	LeaseConflictTotal prometheus.Counter

	// LeaseExpiredTotal counts reclaimed expired leases.
	LeaseExpiredTotal prometheus.Counter

	// ApplyTotal counts apply outcomes by order type and result.
	ApplyTotal *prometheus.CounterVec

	// IdempotentReplayTotal counts guarded calls served from a snapshot.
	IdempotentReplayTotal *prometheus.CounterVec

	// DeadLetterTotal counts entities promoted to dead_lettered.
	DeadLetterTotal *prometheus.CounterVec

	// Gauges

	// QueuedItems tracks the current number of queued items.
	QueuedItems prometheus.Gauge

	// LiveLeases tracks the current number of unexpired leases.
	LiveLeases prometheus.Gauge

	// Histograms

	// ApplyDuration observes how long OrderType.apply runs.
	ApplyDuration *prometheus.HistogramVec

	// CheckoutDuration observes end-to-end checkout latency.
	CheckoutDuration prometheus.Histogram
)

// registered tracks the live collectors so Configure can swap the namespace.
var registered []prometheus.Collector

func init() {
	Configure(DefaultNamespace)
}

// Configure (re)builds every collector under the given namespace and
// registers it with the default registry. Call once at boot, before traffic;
// counters reset when the namespace changes.
func Configure(namespace string) {
	for _, c := range registered {
		prometheus.Unregister(c)
	}
	registered = registered[:0]

	TransitionsTotal = newCounterVec(namespace, "transitions_total",
		"Total number of committed state transitions, by entity and target state.",
		"entity", "to")
	LeaseAcquiredTotal = newCounter(namespace, "lease_acquired_total",
		"Total number of successful lease acquisitions.")
	LeaseConflictTotal = newCounter(namespace, "lease_conflict_total",
		"Total number of lease conflicts.")
	LeaseExpiredTotal = newCounter(namespace, "lease_expired_total",
		"Total number of leases reclaimed after expiry.")
	ApplyTotal = newCounterVec(namespace, "apply_total",
		"Total number of apply invocations, by order type and outcome.",
		"type", "outcome")
	IdempotentReplayTotal = newCounterVec(namespace, "idempotent_replay_total",
		"Total number of guarded operations replayed from a stored snapshot, by operation.",
		"op")
	DeadLetterTotal = newCounterVec(namespace, "dead_letter_total",
		"Total number of orders/items dead-lettered by the maintainer.",
		"entity")

	QueuedItems = newGauge(namespace, "queued_items",
		"Current number of items in queued state.")
	LiveLeases = newGauge(namespace, "live_leases",
		"Current number of items holding an unexpired lease.")

	ApplyDuration = newHistogramVec(namespace, "apply_duration_seconds",
		"Duration of apply invocations, by order type.", "type")
	CheckoutDuration = newHistogram(namespace, "checkout_duration_seconds",
		"Duration of checkout operations.")
}

func newCounter(ns, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help})
	register(c)
	return c
}

func newCounterVec(ns, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	register(c)
	return c
}

func newGauge(ns, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	register(g)
	return g
}

func newHistogram(ns, name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: name, Help: help, Buckets: prometheus.DefBuckets,
	})
	register(h)
	return h
}

func newHistogramVec(ns, name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: name, Help: help, Buckets: prometheus.DefBuckets,
	}, labels)
	register(h)
	return h
}

func register(c prometheus.Collector) {
	prometheus.MustRegister(c)
	registered = append(registered, c)
}

// RecordTransition increments the transition counter.
func RecordTransition(entity, to string) {
	TransitionsTotal.WithLabelValues(entity, to).Inc()
}

// RecordApply increments the apply counter.
func RecordApply(orderType, outcome string) {
	ApplyTotal.WithLabelValues(orderType, outcome).Inc()
}
