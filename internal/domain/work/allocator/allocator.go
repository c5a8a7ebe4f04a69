// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package allocator turns proposals into persisted orders and plans them into
// leasable items.
package allocator

import (
	"context"

	"github.com/google/uuid"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/log"
	"github.com/ManuGH/foreman/internal/validation"
)

// Allocator validates, persists and plans proposed orders.
type Allocator struct {
	Machine            *lifecycle.Machine
	Registry           *ordertype.Registry
	DefaultMaxAttempts int
}

// New builds an allocator. maxAttempts <= 0 falls back to 3.
func New(m *lifecycle.Machine, reg *ordertype.Registry, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Allocator{Machine: m, Registry: reg, DefaultMaxAttempts: maxAttempts}
}

// ProposeRequest is the input to Propose.
type ProposeRequest struct {
	Type     string
	Payload  map[string]any
	Meta     map[string]any
	Priority int
	Actor    model.Actor

	// Audit trail
	AgentName          string
	AgentVersion       string
	RequestFingerprint string
	IdempotencyKeyHash string
}

// ProposeTx creates an order in queued state and plans its items, all inside
// the caller's transaction. Payload validation collects every schema error.
func (a *Allocator) ProposeTx(ctx context.Context, tx *lifecycle.Txn, req ProposeRequest) (*model.Order, error) {
	t, err := a.Registry.Resolve(req.Type)
	if err != nil {
		return nil, err
	}
	if err := validation.AsError(validation.Validate(req.Payload, t.Schema())); err != nil {
		return nil, err
	}

	now := a.Machine.Clock.Now()
	order := &model.Order{
		ID:               uuid.NewString(),
		Type:             req.Type,
		State:            model.OrderQueued,
		Priority:         req.Priority,
		Payload:          req.Payload,
		Meta:             req.Meta,
		RequestedByKind:  req.Actor.Kind,
		RequestedByID:    req.Actor.ID,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := a.Machine.Store.InsertOrder(ctx, tx.Tx(), order); err != nil {
		return nil, err
	}

	if err := a.Machine.Store.InsertProvenance(ctx, tx.Tx(), &model.Provenance{
		OrderID:            order.ID,
		AgentID:            req.Actor.ID,
		AgentName:          req.AgentName,
		AgentVersion:       req.AgentVersion,
		RequestFingerprint: req.RequestFingerprint,
		IdempotencyKeyHash: req.IdempotencyKeyHash,
		CreatedAt:          now,
	}); err != nil {
		return nil, err
	}

	if err := tx.RecordEvent(ctx, order.ID, "", lifecycle.EvProposed, req.Actor, lifecycle.EventOpts{
		Payload: map[string]any{"type": order.Type, "priority": order.Priority},
	}); err != nil {
		return nil, err
	}

	if err := a.PlanTx(ctx, tx, order, req.Actor); err != nil {
		return nil, err
	}

	lg := log.WithComponentFromContext(ctx, "allocator")
	lg.Info().
		Str(log.FieldOrderID, order.ID).Str(log.FieldOrderType, order.Type).
		Msg("order proposed")
	return order, nil
}

// Propose runs ProposeTx in its own transaction. Callers needing idempotency
// wrap ProposeTx in the guard instead.
func (a *Allocator) Propose(ctx context.Context, req ProposeRequest) (*model.Order, error) {
	var order *model.Order
	err := a.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		var err error
		order, err = a.ProposeTx(ctx, tx, req)
		return err
	})
	return order, err
}

// PlanTx expands the order into items via the type's plan step. Re-planning
// an order that already has items yields no additional items.
func (a *Allocator) PlanTx(ctx context.Context, tx *lifecycle.Txn, order *model.Order, actor model.Actor) error {
	existing, err := a.Machine.Store.CountItems(ctx, tx.Tx(), order.ID)
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	t, err := a.Registry.Resolve(order.Type)
	if err != nil {
		return err
	}
	specs, err := t.Plan(order)
	if err != nil {
		return err
	}

	now := a.Machine.Clock.Now()
	for _, spec := range specs {
		maxAttempts := spec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = a.DefaultMaxAttempts
		}
		item := &model.Item{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Type:          spec.Type,
			State:         model.ItemQueued,
			MaxAttempts:   maxAttempts,
			Input:         spec.Input,
			PartsRequired: spec.PartsRequired,
			CreatedAt:     now,
		}
		if err := a.Machine.Store.InsertItem(ctx, tx.Tx(), item); err != nil {
			return err
		}
	}

	return tx.RecordEvent(ctx, order.ID, "", lifecycle.EvPlanned, actor, lifecycle.EventOpts{
		Payload: map[string]any{"items": len(specs)},
	})
}
