// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package executor

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/log"
	"github.com/ManuGH/foreman/internal/metrics"
)

// ApproveRequest asks for an order to be approved and applied.
type ApproveRequest struct {
	OrderID        string
	Actor          model.Actor
	IdempotencyKey string
}

// ApproveResponse reports the final order state and the apply diff.
type ApproveResponse struct {
	Order *model.Order `json:"order"`
	Diff  *model.Diff  `json:"diff,omitempty"`
}

// Approve moves a submitted order through approved, applied and, when every
// item lands in a successful state, completed. Apply runs inside the same
// transaction: a failing apply rolls everything back and the order is then
// marked failed in a follow-up transaction.
func (e *Executor) Approve(ctx context.Context, req ApproveRequest) (*ApproveResponse, error) {
	result, err := e.Guard.Do(ctx, "approve", "approve:order:"+req.OrderID, req.IdempotencyKey, func(tx *lifecycle.Txn) (any, error) {
		return e.approveInTx(ctx, tx, req.OrderID, req.Actor)
	})
	if err != nil {
		e.failOrderOnApplyError(ctx, req.OrderID, err)
		return nil, err
	}
	var resp ApproveResponse
	if err := decode(result.Response, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// approve is the unguarded variant used by the scheduler's auto-approval.
func (e *Executor) approve(ctx context.Context, orderID string, actor model.Actor) (*ApproveResponse, error) {
	var resp *ApproveResponse
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		var err error
		resp, err = e.approveInTx(ctx, tx, orderID, actor)
		return err
	})
	if err != nil {
		e.failOrderOnApplyError(ctx, orderID, err)
		return nil, err
	}
	return resp, nil
}

func (e *Executor) approveInTx(ctx context.Context, tx *lifecycle.Txn, orderID string, actor model.Actor) (*ApproveResponse, error) {
	order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), orderID)
	if err != nil {
		return nil, err
	}
	t, err := e.Registry.Resolve(order.Type)
	if err != nil {
		return nil, err
	}
	items, err := e.Machine.Store.ListItemsByOrder(ctx, tx.Tx(), orderID)
	if err != nil {
		return nil, err
	}
	if !t.AcceptancePolicy().ReadyForApproval(order, items) {
		return nil, model.ErrNotReadyForApproval
	}

	if err := tx.TransitionOrder(ctx, order, model.OrderApproved, actor, lifecycle.EventOpts{}); err != nil {
		return nil, err
	}

	diff, err := e.applyTx(ctx, tx, order, items, t, actor)
	if err != nil {
		return nil, err
	}
	return &ApproveResponse{Order: order, Diff: diff}, nil
}

// applyTx runs the type's apply pipeline: before hook, apply, order to
// applied with the diff journalled, bulk item acceptance, after hook, and
// completion when nothing is left outstanding.
func (e *Executor) applyTx(ctx context.Context, tx *lifecycle.Txn, order *model.Order, items []*model.Item, t ordertype.OrderType, actor model.Actor) (*model.Diff, error) {
	if ba, ok := t.(ordertype.BeforeApplier); ok {
		if err := ba.BeforeApply(ctx, order); err != nil {
			metrics.RecordApply(order.Type, "failure")
			return nil, &model.ApplyError{OrderID: order.ID, Err: err}
		}
	}

	start := time.Now()
	diff, err := t.Apply(ctx, order, items)
	metrics.ApplyDuration.WithLabelValues(order.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordApply(order.Type, "failure")
		return nil, &model.ApplyError{OrderID: order.ID, Err: err}
	}
	metrics.RecordApply(order.Type, "success")

	if err := tx.TransitionOrder(ctx, order, model.OrderApplied, actor, lifecycle.EventOpts{Diff: diff}); err != nil {
		return nil, err
	}

	for _, it := range items {
		if it.State != model.ItemSubmitted {
			continue
		}
		if err := tx.TransitionItem(ctx, it, model.ItemAccepted, actor, lifecycle.EventOpts{}); err != nil {
			return nil, err
		}
	}

	if aa, ok := t.(ordertype.AfterApplier); ok {
		if err := aa.AfterApply(ctx, order, diff); err != nil {
			return nil, &model.ApplyError{OrderID: order.ID, Err: err}
		}
	}

	done := true
	for _, it := range items {
		switch it.State {
		case model.ItemAccepted, model.ItemCompleted:
		default:
			done = false
		}
	}
	if done {
		for _, it := range items {
			if it.State != model.ItemAccepted {
				continue
			}
			if err := tx.TransitionItem(ctx, it, model.ItemCompleted, actor, lifecycle.EventOpts{}); err != nil {
				return nil, err
			}
		}
		if err := tx.TransitionOrder(ctx, order, model.OrderCompleted, actor, lifecycle.EventOpts{}); err != nil {
			return nil, err
		}
	}

	return diff, nil
}

// failOrderOnApplyError records the rolled-back apply failure by moving the
// order to failed in a fresh transaction.
func (e *Executor) failOrderOnApplyError(ctx context.Context, orderID string, opErr error) {
	var ae *model.ApplyError
	if !errors.As(opErr, &ae) {
		return
	}
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), orderID)
		if err != nil {
			return err
		}
		return tx.TransitionOrder(ctx, order, model.OrderFailed, model.SystemActor, lifecycle.EventOpts{
			Payload: map[string]any{"error": ae.Err.Error()},
			Message: "apply failed",
		})
	})
	if err != nil {
		lg := log.WithComponent("executor")
		lg.Error().Err(err).
			Str(log.FieldOrderID, orderID).Msg("failed to mark order failed after apply error")
	}
}

// RejectRequest asks for a submitted order to be turned down.
type RejectRequest struct {
	OrderID        string
	Errors         []model.FieldError
	Reason         string
	AllowRework    bool
	Actor          model.Actor
	IdempotencyKey string
}

// Reject declines a submitted order. With AllowRework the order bounces back
// to queued so agents can pick the items up again; otherwise rejected is
// final for this order.
func (e *Executor) Reject(ctx context.Context, req RejectRequest) (*model.Order, error) {
	result, err := e.Guard.Do(ctx, "reject", "reject:order:"+req.OrderID, req.IdempotencyKey, func(tx *lifecycle.Txn) (any, error) {
		order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), req.OrderID)
		if err != nil {
			return nil, err
		}
		payload := map[string]any{"reason": req.Reason}
		if len(req.Errors) > 0 {
			payload["errors"] = req.Errors
		}
		if err := tx.TransitionOrder(ctx, order, model.OrderRejected, req.Actor, lifecycle.EventOpts{
			Payload: payload,
			Message: req.Reason,
		}); err != nil {
			return nil, err
		}
		if req.AllowRework {
			if err := tx.TransitionOrder(ctx, order, model.OrderQueued, req.Actor, lifecycle.EventOpts{
				Message: "rework requested",
			}); err != nil {
				return nil, err
			}
			// Rework also requeues items stuck in submitted.
			items, err := e.Machine.Store.SubmittedItems(ctx, tx.Tx(), order.ID)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				if err := tx.TransitionItem(ctx, it, model.ItemQueued, req.Actor, lifecycle.EventOpts{
					Message: "requeued for rework",
				}); err != nil {
					return nil, err
				}
			}
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	var order model.Order
	if err := decode(result.Response, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
