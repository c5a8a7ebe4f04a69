// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle owns the order/item state machines. It is the sole writer
// of state columns: every transition validates the configured graph, stamps
// lifecycle timestamps and appends the journal event inside the caller's
// transaction. Observers are notified only after commit.
package lifecycle

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/ManuGH/foreman/internal/clock"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
	"github.com/ManuGH/foreman/internal/log"
)

// Notification describes one committed transition or journal record.
type Notification struct {
	OrderID string
	ItemID  string
	Kind    EventKind
	From    string
	To      string
}

// Observer receives post-commit notifications. Observers must not block.
type Observer func(Notification)

// Machine validates and performs state transitions.
type Machine struct {
	Store *store.Store
	Clock clock.Clock

	orderGraph Graph[model.OrderState]
	itemGraph  Graph[model.ItemState]

	mu        sync.RWMutex
	observers []Observer
}

// New builds a machine over the given graphs. Nil graphs fall back to the
// defaults.
func New(st *store.Store, clk clock.Clock, orderGraph Graph[model.OrderState], itemGraph Graph[model.ItemState]) *Machine {
	if orderGraph == nil {
		orderGraph = DefaultOrderGraph()
	}
	if itemGraph == nil {
		itemGraph = DefaultItemGraph()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Machine{Store: st, Clock: clk, orderGraph: orderGraph, itemGraph: itemGraph}
}

// Subscribe registers a post-commit observer.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Txn is a lifecycle-aware transaction handle. All writes performed through
// it share one store transaction; notifications collected on it fire only
// after that transaction commits.
type Txn struct {
	m       *Machine
	tx      *sql.Tx
	pending []Notification
}

// Tx exposes the underlying transaction for store calls.
func (t *Txn) Tx() *sql.Tx { return t.tx }

// Run opens one transaction, executes fn, and on commit notifies observers in
// persist -> commit -> notify order.
func (m *Machine) Run(ctx context.Context, fn func(tx *Txn) error) error {
	var pending []Notification
	err := m.Store.WithTx(ctx, func(sqlTx *sql.Tx) error {
		txn := &Txn{m: m, tx: sqlTx}
		if err := fn(txn); err != nil {
			return err
		}
		pending = txn.pending
		return nil
	})
	if err != nil {
		return err
	}
	m.notify(pending)
	return nil
}

func (m *Machine) notify(pending []Notification) {
	if len(pending) == 0 {
		return
	}
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, n := range pending {
		for _, obs := range observers {
			obs(n)
		}
	}
}

// EventOpts carries the optional journal fields of a transition.
type EventOpts struct {
	Kind    EventKind // overrides the target state's name
	Payload map[string]any
	Diff    *model.Diff
	Message string
}

// TransitionOrder moves an order to the target state. The order struct is
// mutated in place with the new state and timestamps.
func (t *Txn) TransitionOrder(ctx context.Context, o *model.Order, to model.OrderState, actor model.Actor, opts EventOpts) error {
	from := o.State
	if !t.m.orderGraph.Allowed(from, to) {
		return &model.IllegalTransitionError{Entity: "order", From: string(from), To: string(to)}
	}

	now := t.m.Clock.Now()
	o.State = to
	o.LastTransitionAt = now
	if to == model.OrderApplied && o.AppliedAt.IsZero() {
		o.AppliedAt = now
	}
	if to == model.OrderCompleted && o.CompletedAt.IsZero() {
		o.CompletedAt = now
	}

	if err := t.m.Store.UpdateOrderState(ctx, t.tx, o); err != nil {
		return err
	}

	kind := opts.Kind
	if kind == "" {
		kind = EventKind(to)
	}
	if err := t.insertEvent(ctx, o.ID, "", kind, actor, opts, now); err != nil {
		return err
	}

	t.pending = append(t.pending, Notification{OrderID: o.ID, Kind: kind, From: string(from), To: string(to)})
	lg := log.WithComponent("lifecycle")
	lg.Debug().
		Str("order_id", o.ID).Str("from", string(from)).Str("to", string(to)).
		Msg("order transition")
	return nil
}

// TransitionItem moves an item to the target state. Lease columns are cleared
// when the target state is terminal, and accepted_at is stamped on accept.
func (t *Txn) TransitionItem(ctx context.Context, it *model.Item, to model.ItemState, actor model.Actor, opts EventOpts) error {
	from := it.State
	if !t.m.itemGraph.Allowed(from, to) {
		return &model.IllegalTransitionError{Entity: "item", From: string(from), To: string(to)}
	}

	now := t.m.Clock.Now()
	it.State = to
	if to == model.ItemAccepted && it.AcceptedAt.IsZero() {
		it.AcceptedAt = now
	}
	if to.IsTerminal() {
		it.LeasedByAgentID = ""
		it.LeaseExpiresAt = time.Time{}
		it.LastHeartbeatAt = time.Time{}
	}

	if err := t.m.Store.UpdateItemState(ctx, t.tx, it); err != nil {
		return err
	}

	kind := opts.Kind
	if kind == "" {
		kind = EventKind(to)
	}
	if err := t.insertEvent(ctx, it.OrderID, it.ID, kind, actor, opts, now); err != nil {
		return err
	}

	t.pending = append(t.pending, Notification{OrderID: it.OrderID, ItemID: it.ID, Kind: kind, From: string(from), To: string(to)})
	lg := log.WithComponent("lifecycle")
	lg.Debug().
		Str("item_id", it.ID).Str("from", string(from)).Str("to", string(to)).
		Msg("item transition")
	return nil
}

// RecordEvent journals an event without changing state (heartbeats,
// informational lease notes, part records).
func (t *Txn) RecordEvent(ctx context.Context, orderID, itemID string, kind EventKind, actor model.Actor, opts EventOpts) error {
	now := t.m.Clock.Now()
	if opts.Kind != "" {
		kind = opts.Kind
	}
	if err := t.insertEvent(ctx, orderID, itemID, kind, actor, opts, now); err != nil {
		return err
	}
	t.pending = append(t.pending, Notification{OrderID: orderID, ItemID: itemID, Kind: kind})
	return nil
}

func (t *Txn) insertEvent(ctx context.Context, orderID, itemID string, kind EventKind, actor model.Actor, opts EventOpts, at time.Time) error {
	return t.m.Store.InsertEvent(ctx, t.tx, &model.Event{
		OrderID:   orderID,
		ItemID:    itemID,
		Kind:      string(kind),
		ActorKind: actor.Kind,
		ActorID:   actor.ID,
		Payload:   opts.Payload,
		Diff:      opts.Diff,
		Message:   opts.Message,
		CreatedAt: at,
	})
}
