// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lease implements exclusive TTL leases on work items: acquire,
// heartbeat, release and reclamation. Every state-changing operation runs in
// a single store transaction; candidates from the selector can be stale, so
// acquire re-verifies availability under the transaction.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
	"github.com/ManuGH/foreman/internal/log"
	"github.com/ManuGH/foreman/internal/metrics"
)

// Config carries the lease engine knobs.
type Config struct {
	TTL            time.Duration // default 600s
	HeartbeatEvery time.Duration // advisory value returned to callers
	AcquireRetries int           // bounded lock-then-verify retries
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:            600 * time.Second,
		HeartbeatEvery: 120 * time.Second,
		AcquireRetries: 3,
	}
}

// Engine coordinates leases over the store, optionally mirrored into an
// external keyed TTL backend.
type Engine struct {
	Machine *lifecycle.Machine
	Conf    Config
	Backend Backend // nil means database rows only
}

// New builds an engine; zero config fields fall back to defaults.
func New(m *lifecycle.Machine, conf Config, backend Backend) *Engine {
	def := DefaultConfig()
	if conf.TTL <= 0 {
		conf.TTL = def.TTL
	}
	if conf.HeartbeatEvery <= 0 {
		conf.HeartbeatEvery = def.HeartbeatEvery
	}
	if conf.AcquireRetries <= 0 {
		conf.AcquireRetries = def.AcquireRetries
	}
	return &Engine{Machine: m, Conf: conf, Backend: backend}
}

// GetNextAvailable returns the next dispatchable item id under the
// priority+FIFO policy, or model.ErrNoItemsAvailable.
func (e *Engine) GetNextAvailable(ctx context.Context, f store.AvailableFilter) (string, error) {
	return e.Machine.Store.NextAvailable(ctx, e.Machine.Store.DB, f, e.Machine.Clock.Now())
}

// Checkout selects and acquires the next available item for agentID. Lost
// races retry against fresh candidates a bounded number of times.
func (e *Engine) Checkout(ctx context.Context, f store.AvailableFilter, agentID string) (*model.Item, error) {
	timer := time.Now()
	defer func() { metrics.CheckoutDuration.Observe(time.Since(timer).Seconds()) }()

	for attempt := 0; attempt <= e.Conf.AcquireRetries; attempt++ {
		id, err := e.GetNextAvailable(ctx, f)
		if err != nil {
			return nil, err
		}
		item, err := e.Acquire(ctx, id, agentID)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, model.ErrLeaseConflict) {
			return nil, err
		}
	}
	return nil, model.ErrLeaseConflict
}

// Acquire claims an exclusive lease on itemID for agentID. Availability is
// re-verified inside the transaction; losing the race yields ErrLeaseConflict.
func (e *Engine) Acquire(ctx context.Context, itemID, agentID string) (*model.Item, error) {
	var acquired *model.Item
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		now := e.Machine.Clock.Now()
		if item.State != model.ItemQueued || item.HasLiveLease(now) {
			metrics.LeaseConflictTotal.Inc()
			return model.ErrLeaseConflict
		}

		if e.Backend != nil {
			ok, err := e.Backend.Acquire(ctx, item.ID, agentID, e.Conf.TTL)
			if err != nil {
				return err
			}
			if !ok {
				metrics.LeaseConflictTotal.Inc()
				return model.ErrLeaseConflict
			}
		}

		item.LeasedByAgentID = agentID
		item.LeaseExpiresAt = now.Add(e.Conf.TTL)
		item.LastHeartbeatAt = now
		if err := e.Machine.Store.UpdateItemLease(ctx, tx.Tx(), item); err != nil {
			return err
		}

		actor := model.Actor{Kind: model.ActorAgent, ID: agentID}
		if err := tx.TransitionItem(ctx, item, model.ItemLeased, actor, lifecycle.EventOpts{
			Payload: map[string]any{"lease_expires_at": item.LeaseExpiresAt},
		}); err != nil {
			return err
		}

		order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), item.OrderID)
		if err != nil {
			return err
		}
		if order.State == model.OrderQueued {
			if err := tx.TransitionOrder(ctx, order, model.OrderCheckedOut, actor, lifecycle.EventOpts{}); err != nil {
				return err
			}
		}

		acquired = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LeaseAcquiredTotal.Inc()
	return acquired, nil
}

// Extend refreshes the lease (heartbeat) and returns the new expiry.
func (e *Engine) Extend(ctx context.Context, itemID, agentID string) (time.Time, error) {
	var expiry time.Time
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		now := e.Machine.Clock.Now()
		if item.LeasedByAgentID != agentID {
			return model.ErrLeaseConflict
		}
		if now.After(item.LeaseExpiresAt) {
			return model.ErrLeaseExpired
		}

		if e.Backend != nil {
			ok, err := e.Backend.Extend(ctx, item.ID, agentID, e.Conf.TTL)
			if err != nil {
				return err
			}
			if !ok {
				return model.ErrLeaseExpired
			}
		}

		item.LeaseExpiresAt = now.Add(e.Conf.TTL)
		item.LastHeartbeatAt = now
		if err := e.Machine.Store.UpdateItemLease(ctx, tx.Tx(), item); err != nil {
			return err
		}
		expiry = item.LeaseExpiresAt

		actor := model.Actor{Kind: model.ActorAgent, ID: agentID}
		return tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvHeartbeat, actor, lifecycle.EventOpts{
			Payload: map[string]any{"lease_expires_at": expiry},
		})
	})
	return expiry, err
}

// Release returns a leased item to the queue. Only the current owner may
// release; the parent order is re-queued when nothing else is in flight.
func (e *Engine) Release(ctx context.Context, itemID, agentID string) (*model.Item, error) {
	var released *model.Item
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		if item.LeasedByAgentID != agentID {
			return model.ErrLeaseConflict
		}

		if e.Backend != nil {
			if err := e.Backend.Release(ctx, item.ID, agentID); err != nil {
				return err
			}
		}

		item.LeasedByAgentID = ""
		item.LeaseExpiresAt = time.Time{}
		item.LastHeartbeatAt = time.Time{}
		if err := e.Machine.Store.UpdateItemLease(ctx, tx.Tx(), item); err != nil {
			return err
		}

		actor := model.Actor{Kind: model.ActorAgent, ID: agentID}
		if err := tx.TransitionItem(ctx, item, model.ItemQueued, actor, lifecycle.EventOpts{
			Kind:    lifecycle.EvReleased,
			Message: "lease released by owner",
		}); err != nil {
			return err
		}
		if err := e.requeueOrderIfIdle(ctx, tx, item.OrderID, actor); err != nil {
			return err
		}
		released = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ReclaimExpired requeues or fails every item whose lease passed. Each item
// is handled in its own transaction; one failure does not stop the sweep.
// Returns the number of items touched.
func (e *Engine) ReclaimExpired(ctx context.Context) (int, error) {
	ids, err := e.Machine.Store.ExpiredLeaseIDs(ctx, e.Machine.Clock.Now())
	if err != nil {
		return 0, err
	}

	logger := log.WithComponent("lease")
	reclaimed := 0
	for _, id := range ids {
		if err := e.reclaimOne(ctx, id); err != nil {
			logger.Warn().Err(err).Str(log.FieldItemID, id).Msg("reclaim failed")
			continue
		}
		reclaimed++
		metrics.LeaseExpiredTotal.Inc()
	}
	return reclaimed, nil
}

func (e *Engine) reclaimOne(ctx context.Context, itemID string) error {
	return e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		now := e.Machine.Clock.Now()
		switch item.State {
		case model.ItemLeased, model.ItemInProgress:
		default:
			return nil // already handled elsewhere
		}
		if item.LeaseExpiresAt.IsZero() || !now.After(item.LeaseExpiresAt) {
			return nil
		}

		if e.Backend != nil {
			_ = e.Backend.Release(ctx, item.ID, item.LeasedByAgentID)
		}

		item.Attempts++
		expiredAgent := item.LeasedByAgentID

		if err := tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvLeaseExpired, model.SystemActor, lifecycle.EventOpts{
			Payload: map[string]any{"attempts": item.Attempts, "agent_id": expiredAgent},
		}); err != nil {
			return err
		}

		if item.Attempts >= item.MaxAttempts {
			item.Error = &model.ErrorDetail{
				Code:    "lease_expired_max_attempts",
				Message: "lease expired and no attempts remain",
			}
			return tx.TransitionItem(ctx, item, model.ItemFailed, model.SystemActor, lifecycle.EventOpts{
				Message: "lease expired, max attempts reached",
			})
		}

		item.LeasedByAgentID = ""
		item.LeaseExpiresAt = time.Time{}
		item.LastHeartbeatAt = time.Time{}
		if err := e.Machine.Store.UpdateItemLease(ctx, tx.Tx(), item); err != nil {
			return err
		}
		if err := tx.TransitionItem(ctx, item, model.ItemQueued, model.SystemActor, lifecycle.EventOpts{
			Message: "lease expired, requeued",
		}); err != nil {
			return err
		}
		return e.requeueOrderIfIdle(ctx, tx, item.OrderID, model.SystemActor)
	})
}

// requeueOrderIfIdle moves the order back to queued when no item remains
// leased or in progress.
func (e *Engine) requeueOrderIfIdle(ctx context.Context, tx *lifecycle.Txn, orderID string, actor model.Actor) error {
	counts, err := e.Machine.Store.ItemStateCounts(ctx, tx.Tx(), orderID)
	if err != nil {
		return err
	}
	if counts[model.ItemLeased] > 0 || counts[model.ItemInProgress] > 0 {
		return nil
	}
	order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), orderID)
	if err != nil {
		return err
	}
	if order.State != model.OrderCheckedOut {
		return nil
	}
	return tx.TransitionOrder(ctx, order, model.OrderQueued, actor, lifecycle.EventOpts{
		Message: "no items in flight",
	})
}
