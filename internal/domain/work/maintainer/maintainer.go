// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package maintainer is the background janitor: it reclaims expired leases,
// dead-letters stuck failures and flags stale orders. Every pass is also
// callable on demand for operators and tests.
package maintainer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/foreman/internal/domain/work/lease"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/log"
	"github.com/ManuGH/foreman/internal/metrics"
)

// Config carries the maintenance knobs. Each task toggles independently.
type Config struct {
	Interval        time.Duration // sweep cadence, default 60s
	DeadLetterAfter time.Duration // failed-entity age before dead-lettering, default 48h
	StaleAfter      time.Duration // non-terminal order age before flagging, default 24h

	ReclaimLeases bool
	DeadLetter    bool
	DetectStale   bool
	EnableAlerts  bool // journal a stale event per flagged order
}

// DefaultConfig enables every task with the documented thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		DeadLetterAfter: 48 * time.Hour,
		StaleAfter:      24 * time.Hour,
		ReclaimLeases:   true,
		DeadLetter:      true,
		DetectStale:     true,
	}
}

// Maintainer runs the periodic maintenance pass.
type Maintainer struct {
	Machine *lifecycle.Machine
	Lease   *lease.Engine
	Conf    Config

	logger zerolog.Logger
}

// New builds a maintainer; zero durations fall back to defaults.
func New(m *lifecycle.Machine, eng *lease.Engine, conf Config) *Maintainer {
	def := DefaultConfig()
	if conf.Interval <= 0 {
		conf.Interval = def.Interval
	}
	if conf.DeadLetterAfter <= 0 {
		conf.DeadLetterAfter = def.DeadLetterAfter
	}
	if conf.StaleAfter <= 0 {
		conf.StaleAfter = def.StaleAfter
	}
	return &Maintainer{Machine: m, Lease: eng, Conf: conf, logger: log.WithComponent("maintainer")}
}

// Report summarises one maintenance pass.
type Report struct {
	ReclaimedLeases    int      `json:"reclaimedLeases"`
	DeadLetteredItems  int      `json:"deadLetteredItems"`
	DeadLetteredOrders int      `json:"deadLetteredOrders"`
	StaleOrders        []string `json:"staleOrders,omitempty"`
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Conf.Interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.Conf.Interval).Msg("maintainer started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("maintainer stopped")
			return
		case <-ticker.C:
			if _, err := m.MaintainOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("maintenance pass failed")
			}
		}
	}
}

// MaintainOnce runs a single pass over all enabled tasks. Tasks are
// independent; a failing task is reported but does not stop the others.
func (m *Maintainer) MaintainOnce(ctx context.Context) (Report, error) {
	var rep Report
	var firstErr error

	if m.Conf.ReclaimLeases {
		n, err := m.Lease.ReclaimExpired(ctx)
		rep.ReclaimedLeases = n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.Conf.DeadLetter {
		items, orders, err := m.deadLetter(ctx)
		rep.DeadLetteredItems = items
		rep.DeadLetteredOrders = orders
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.Conf.DetectStale {
		stale, err := m.detectStale(ctx)
		rep.StaleOrders = stale
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if queued, live, err := m.Machine.Store.GlobalGauges(ctx, m.Machine.Clock.Now()); err == nil {
		metrics.QueuedItems.Set(float64(queued))
		metrics.LiveLeases.Set(float64(live))
	}

	if rep.ReclaimedLeases > 0 || rep.DeadLetteredItems > 0 || rep.DeadLetteredOrders > 0 || len(rep.StaleOrders) > 0 {
		m.logger.Info().
			Int("reclaimed", rep.ReclaimedLeases).
			Int("dead_lettered_items", rep.DeadLetteredItems).
			Int("dead_lettered_orders", rep.DeadLetteredOrders).
			Int("stale_orders", len(rep.StaleOrders)).
			Msg("maintenance pass")
	}
	return rep, firstErr
}

// deadLetter promotes failed items and orders older than the threshold.
// Each entity moves in its own transaction so one bad row cannot wedge the
// sweep.
func (m *Maintainer) deadLetter(ctx context.Context) (items, orders int, err error) {
	cutoff := m.Machine.Clock.Now().Add(-m.Conf.DeadLetterAfter)

	itemIDs, err := m.Machine.Store.FailedItemIDsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range itemIDs {
		if err := m.deadLetterItem(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldItemID, id).Msg("dead-letter item failed")
			continue
		}
		items++
		metrics.DeadLetterTotal.WithLabelValues("item").Inc()
	}

	orderIDs, err := m.Machine.Store.FailedOrderIDsOlderThan(ctx, cutoff)
	if err != nil {
		return items, 0, err
	}
	for _, id := range orderIDs {
		if err := m.deadLetterOrder(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldOrderID, id).Msg("dead-letter order failed")
			continue
		}
		orders++
		metrics.DeadLetterTotal.WithLabelValues("order").Inc()
	}
	return items, orders, nil
}

func (m *Maintainer) deadLetterItem(ctx context.Context, itemID string) error {
	return m.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := m.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		if item.State != model.ItemFailed {
			return nil
		}
		return tx.TransitionItem(ctx, item, model.ItemDeadLettered, model.SystemActor, lifecycle.EventOpts{
			Message: "failed beyond the dead-letter threshold",
		})
	})
}

func (m *Maintainer) deadLetterOrder(ctx context.Context, orderID string) error {
	return m.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		order, err := m.Machine.Store.GetOrder(ctx, tx.Tx(), orderID)
		if err != nil {
			return err
		}
		if order.State != model.OrderFailed {
			return nil
		}
		return tx.TransitionOrder(ctx, order, model.OrderDeadLettered, model.SystemActor, lifecycle.EventOpts{
			Message: "failed beyond the dead-letter threshold",
		})
	})
}

// detectStale flags non-terminal orders past the stale threshold. Flagging
// never changes state; with alerts enabled each order also gets a journal
// entry, at most one per pass cycle thanks to the event lookback.
func (m *Maintainer) detectStale(ctx context.Context) ([]string, error) {
	cutoff := m.Machine.Clock.Now().Add(-m.Conf.StaleAfter)
	ids, err := m.Machine.Store.StaleOrderIDs(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.logger.Warn().Str(log.FieldOrderID, id).
			Dur("threshold", m.Conf.StaleAfter).Msg("stale order")
		if !m.Conf.EnableAlerts {
			continue
		}
		err := m.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
			return tx.RecordEvent(ctx, id, "", lifecycle.EvStale, model.SystemActor, lifecycle.EventOpts{
				Payload: map[string]any{"threshold_hours": m.Conf.StaleAfter.Hours()},
			})
		})
		if err != nil {
			m.logger.Warn().Err(err).Str(log.FieldOrderID, id).Msg("stale alert failed")
		}
	}
	return ids, nil
}
