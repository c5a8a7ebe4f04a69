// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package executor drives the submit, approve, apply, reject and
// part-assembly operations. Every externally-initiated operation is one outer
// store transaction; idempotency-guarded operations share that transaction
// with the guard's snapshot write.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ManuGH/foreman/internal/domain/work/idempotency"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/log"
)

// AutoApproveMode resolves whether a type's auto-approve bit fires.
type AutoApproveMode string

const (
	// AutoApproveType defers to the registered type's AutoApprove hook.
	AutoApproveType AutoApproveMode = "type"
	// AutoApproveOff disables automatic approval regardless of the type.
	AutoApproveOff AutoApproveMode = "off"
)

// Executor coordinates result handling and the apply pipeline.
type Executor struct {
	Machine     *lifecycle.Machine
	Registry    *ordertype.Registry
	Guard       *idempotency.Guard
	AutoApprove AutoApproveMode
}

// New builds an executor with the given collaborators.
func New(m *lifecycle.Machine, reg *ordertype.Registry, g *idempotency.Guard, mode AutoApproveMode) *Executor {
	if mode == "" {
		mode = AutoApproveType
	}
	return &Executor{Machine: m, Registry: reg, Guard: g, AutoApprove: mode}
}

func (e *Executor) autoApproves(t ordertype.OrderType) bool {
	if e.AutoApprove == AutoApproveOff {
		return false
	}
	aa, ok := t.(ordertype.AutoApprover)
	return ok && aa.AutoApprove()
}

// checkLease enforces the submit-path preconditions: current ownership, live
// lease, workable state.
func checkLease(item *model.Item, agentID string, now time.Time) error {
	if item.LeasedByAgentID != agentID {
		return model.ErrLeaseConflict
	}
	if now.After(item.LeaseExpiresAt) {
		return model.ErrLeaseExpired
	}
	switch item.State {
	case model.ItemLeased, model.ItemInProgress:
		return nil
	default:
		return model.ErrLeaseConflict
	}
}

// SubmitRequest carries one item result submission.
type SubmitRequest struct {
	ItemID         string
	Result         map[string]any
	Evidence       map[string]any
	Notes          string
	AgentID        string
	IdempotencyKey string
}

// SubmitResponse reports the item and order state after submission.
type SubmitResponse struct {
	Item       *model.Item      `json:"item"`
	OrderState model.OrderState `json:"orderState"`
}

// Submit validates and stores an item result, promoting the order to
// submitted when all items are in. A failed acceptance validation is
// persisted on the item without transitioning it. Checks run inside the
// guarded transaction so a keyed retry replays the stored response instead of
// tripping over the already-submitted item.
func (e *Executor) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	item, err := e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, req.ItemID)
	if err != nil {
		return nil, err
	}
	order, err := e.Machine.Store.GetOrder(ctx, e.Machine.Store.DB, item.OrderID)
	if err != nil {
		return nil, err
	}
	t, err := e.Registry.Resolve(order.Type)
	if err != nil {
		return nil, err
	}

	actor := model.Actor{Kind: model.ActorAgent, ID: req.AgentID}
	var resp SubmitResponse
	var valErr error
	result, err := e.Guard.Do(ctx, "submit", "submit:item:"+req.ItemID, req.IdempotencyKey, func(tx *lifecycle.Txn) (any, error) {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), req.ItemID)
		if err != nil {
			return nil, err
		}
		if err := checkLease(item, req.AgentID, e.Machine.Clock.Now()); err != nil {
			return nil, err
		}
		if err := t.AcceptancePolicy().ValidateSubmission(item, req.Result); err != nil {
			valErr = err
			return nil, err
		}

		item.Result = req.Result
		item.Error = nil
		if err := e.Machine.Store.UpdateItemResult(ctx, tx.Tx(), item); err != nil {
			return nil, err
		}
		if err := tx.TransitionItem(ctx, item, model.ItemSubmitted, actor, lifecycle.EventOpts{
			Payload: map[string]any{"result": req.Result, "evidence": req.Evidence, "notes": req.Notes},
		}); err != nil {
			return nil, err
		}

		order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), item.OrderID)
		if err != nil {
			return nil, err
		}
		if err := e.promoteOrderIfAllIn(ctx, tx, order, actor); err != nil {
			return nil, err
		}

		return &SubmitResponse{Item: item, OrderState: order.State}, nil
	})
	if err != nil {
		if valErr != nil {
			e.persistSubmissionError(ctx, item, valErr)
		}
		return nil, err
	}
	if err := decode(result.Response, &resp); err != nil {
		return nil, err
	}

	// Auto-approval runs after the submission committed so an apply failure
	// never takes the stored result down with it.
	if !result.Replayed && e.autoApproves(t) {
		e.maybeAutoApprove(ctx, item.OrderID, t)
	}
	return &resp, nil
}

// maybeAutoApprove approves and applies the order as the system scheduler when
// the acceptance policy reports readiness. Failures mark the order failed and
// are logged; the triggering submission stands either way.
func (e *Executor) maybeAutoApprove(ctx context.Context, orderID string, t ordertype.OrderType) {
	order, err := e.Machine.Store.GetOrder(ctx, e.Machine.Store.DB, orderID)
	if err != nil {
		return
	}
	items, err := e.Machine.Store.ListItemsByOrder(ctx, e.Machine.Store.DB, orderID)
	if err != nil {
		return
	}
	if order.State != model.OrderSubmitted || !t.AcceptancePolicy().ReadyForApproval(order, items) {
		return
	}
	if _, err := e.approve(ctx, orderID, model.SystemActor); err != nil {
		lg := log.WithComponent("executor")
		lg.Warn().Err(err).
			Str(log.FieldOrderID, orderID).Msg("auto-approve failed")
	}
}

// persistSubmissionError stores the validation failure on the item in its own
// transaction so the caller sees it on the next read.
func (e *Executor) persistSubmissionError(ctx context.Context, item *model.Item, valErr error) {
	detail := &model.ErrorDetail{Code: "validation_failed", Message: valErr.Error()}
	var ve *model.ValidationError
	if errors.As(valErr, &ve) {
		detail.Fields = ve.Errors
	}
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		fresh, err := e.Machine.Store.GetItem(ctx, tx.Tx(), item.ID)
		if err != nil {
			return err
		}
		fresh.Error = detail
		return e.Machine.Store.UpdateItemResult(ctx, tx.Tx(), fresh)
	})
	if err != nil {
		lg := log.WithComponent("executor")
		lg.Warn().Err(err).
			Str(log.FieldItemID, item.ID).Msg("failed to persist submission error")
	}
}

// promoteOrderIfAllIn moves the order to submitted once every item reached
// submitted, accepted or completed.
func (e *Executor) promoteOrderIfAllIn(ctx context.Context, tx *lifecycle.Txn, order *model.Order, actor model.Actor) error {
	counts, err := e.Machine.Store.ItemStateCounts(ctx, tx.Tx(), order.ID)
	if err != nil {
		return err
	}
	total := 0
	in := 0
	for st, n := range counts {
		total += n
		switch st {
		case model.ItemSubmitted, model.ItemAccepted, model.ItemCompleted:
			in += n
		}
	}
	if total == 0 || in != total {
		return nil
	}
	switch order.State {
	case model.OrderCheckedOut, model.OrderInProgress:
		return tx.TransitionOrder(ctx, order, model.OrderSubmitted, actor, lifecycle.EventOpts{})
	}
	return nil
}

// Fail moves an item to failed and records the error. The maintainer may
// promote it to dead_lettered later.
func (e *Executor) Fail(ctx context.Context, itemID string, detail *model.ErrorDetail, actor model.Actor) (*model.Item, error) {
	var failed *model.Item
	err := e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), itemID)
		if err != nil {
			return err
		}
		item.Error = detail
		if err := tx.TransitionItem(ctx, item, model.ItemFailed, actor, lifecycle.EventOpts{
			Payload: map[string]any{"error": detail},
		}); err != nil {
			return err
		}
		failed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

// decode unpacks a guard response snapshot, freshly produced or replayed.
func decode(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
