// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

// PartChecksum returns the hex SHA-256 of the payload's canonical JSON form.
// encoding/json emits map keys in sorted order, which is canonical enough for
// integrity checks within one control plane.
func PartChecksum(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SubmitPartRequest carries one incremental part of an item's result.
type SubmitPartRequest struct {
	ItemID         string
	PartKey        string
	Seq            *int
	Payload        map[string]any
	Evidence       map[string]any
	Notes          string
	AgentID        string
	IdempotencyKey string
}

// SubmitPartResponse reports the stored part and the item's part progress.
type SubmitPartResponse struct {
	Part       *model.Part      `json:"part"`
	PartsState model.PartsState `json:"partsState"`
}

// SubmitPart validates and stores one part without transitioning the item.
// A part failing the type's partial rules is stored with status rejected and
// the validation error is returned. The rule check runs inside the guarded
// transaction so keyed retries replay cleanly.
func (e *Executor) SubmitPart(ctx context.Context, req SubmitPartRequest) (*SubmitPartResponse, error) {
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

	var resp SubmitPartResponse
	var ruleErr error
	result, err := e.Guard.Do(ctx, "submit-part", "submit-part:item:"+req.ItemID, req.IdempotencyKey, func(tx *lifecycle.Txn) (any, error) {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), req.ItemID)
		if err != nil {
			return nil, err
		}
		if err := checkLease(item, req.AgentID, e.Machine.Clock.Now()); err != nil {
			return nil, err
		}
		if pr, ok := t.(ordertype.PartialRuler); ok {
			if err := pr.PartialRules(item, req.PartKey, req.Seq, req.Payload); err != nil {
				ruleErr = err
				return nil, err
			}
		}

		part := e.newPart(item, req, model.PartValidated, nil)
		if po, ok := t.(ordertype.PartObserver); ok {
			if err := po.AfterValidatePart(item, part); err != nil {
				return nil, err
			}
		}
		if err := e.Machine.Store.InsertPart(ctx, tx.Tx(), part); err != nil {
			return nil, err
		}

		if item.PartsState == nil {
			item.PartsState = make(model.PartsState)
		}
		item.PartsState[req.PartKey] = model.PartProgress{Status: model.PartValidated, Seq: req.Seq}
		if err := e.Machine.Store.UpdateItemResult(ctx, tx.Tx(), item); err != nil {
			return nil, err
		}

		actor := model.Actor{Kind: model.ActorAgent, ID: req.AgentID}
		if err := tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvPartSubmitted, actor, lifecycle.EventOpts{
			Payload: partEventPayload(part),
		}); err != nil {
			return nil, err
		}
		if err := tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvPartValidated, actor, lifecycle.EventOpts{
			Payload: partEventPayload(part),
		}); err != nil {
			return nil, err
		}

		return &SubmitPartResponse{Part: part, PartsState: item.PartsState}, nil
	})
	if err != nil {
		if ruleErr != nil {
			e.persistRejectedPart(ctx, item, req, ruleErr)
		}
		return nil, err
	}
	if err := decode(result.Response, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Executor) newPart(item *model.Item, req SubmitPartRequest, status model.PartStatus, fieldErrs []model.FieldError) *model.Part {
	return &model.Part{
		ItemID:    item.ID,
		PartKey:   req.PartKey,
		Seq:       req.Seq,
		Status:    status,
		Payload:   req.Payload,
		Evidence:  req.Evidence,
		Notes:     req.Notes,
		Errors:    fieldErrs,
		Checksum:  PartChecksum(req.Payload),
		AgentID:   req.AgentID,
		CreatedAt: e.Machine.Clock.Now(),
	}
}

// persistRejectedPart stores the failed part with its errors and journals the
// rejection in a fresh transaction, since the caller's error path rolls back.
func (e *Executor) persistRejectedPart(ctx context.Context, item *model.Item, req SubmitPartRequest, valErr error) {
	var fieldErrs []model.FieldError
	var ve *model.ValidationError
	if errors.As(valErr, &ve) {
		fieldErrs = ve.Errors
	} else {
		fieldErrs = []model.FieldError{{Field: req.PartKey, Code: "invalid", Message: valErr.Error()}}
	}

	_ = e.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		part := e.newPart(item, req, model.PartRejected, fieldErrs)
		if err := e.Machine.Store.InsertPart(ctx, tx.Tx(), part); err != nil {
			return err
		}
		fresh, err := e.Machine.Store.GetItem(ctx, tx.Tx(), item.ID)
		if err != nil {
			return err
		}
		if fresh.PartsState == nil {
			fresh.PartsState = make(model.PartsState)
		}
		fresh.PartsState[req.PartKey] = model.PartProgress{Status: model.PartRejected, Seq: req.Seq}
		if err := e.Machine.Store.UpdateItemResult(ctx, tx.Tx(), fresh); err != nil {
			return err
		}
		actor := model.Actor{Kind: model.ActorAgent, ID: req.AgentID}
		return tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvPartRejected, actor, lifecycle.EventOpts{
			Payload: partEventPayload(part),
		})
	})
}

func partEventPayload(p *model.Part) map[string]any {
	payload := map[string]any{
		"part_key": p.PartKey,
		"status":   p.Status,
		"checksum": p.Checksum,
	}
	if p.Seq != nil {
		payload["seq"] = *p.Seq
	}
	if len(p.Errors) > 0 {
		payload["errors"] = p.Errors
	}
	return payload
}

// ListParts returns an item's stored parts, oldest first.
func (e *Executor) ListParts(ctx context.Context, itemID string, f store.PartFilter) ([]*model.Part, error) {
	if _, err := e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, itemID); err != nil {
		return nil, err
	}
	return e.Machine.Store.ListParts(ctx, e.Machine.Store.DB, itemID, f)
}

// FinalizeRequest asks for an item's parts to be assembled into its result.
type FinalizeRequest struct {
	ItemID         string
	Mode           model.FinalizeMode
	IdempotencyKey string
}

// FinalizeResponse reports the submitted item with its assembled result.
type FinalizeResponse struct {
	Item       *model.Item      `json:"item"`
	OrderState model.OrderState `json:"orderState"`
}

// FinalizeItem assembles the latest validated parts into the item result and
// submits the item. Strict mode demands the validated part keys match the
// required set exactly; best-effort assembles whatever is there.
func (e *Executor) FinalizeItem(ctx context.Context, req FinalizeRequest) (*FinalizeResponse, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.FinalizeStrict
	}

	result, err := e.Guard.Do(ctx, "finalize", "finalize:item:"+req.ItemID, req.IdempotencyKey, func(tx *lifecycle.Txn) (any, error) {
		item, err := e.Machine.Store.GetItem(ctx, tx.Tx(), req.ItemID)
		if err != nil {
			return nil, err
		}
		order, err := e.Machine.Store.GetOrder(ctx, tx.Tx(), item.OrderID)
		if err != nil {
			return nil, err
		}
		t, err := e.Registry.Resolve(order.Type)
		if err != nil {
			return nil, err
		}

		latest, err := e.Machine.Store.LatestParts(ctx, tx.Tx(), item.ID, model.PartValidated)
		if err != nil {
			return nil, err
		}

		if mode == model.FinalizeStrict {
			if err := checkRequiredParts(ordertype.RequiredParts(t, item), latest); err != nil {
				return nil, err
			}
		}

		assembled, err := ordertype.Assemble(t, item, latest)
		if err != nil {
			return nil, err
		}
		if av, ok := t.(ordertype.AssembledValidator); ok {
			if err := av.ValidateAssembled(item, assembled); err != nil {
				return nil, err
			}
		}

		item.AssembledResult = assembled
		item.Result = assembled
		item.Error = nil
		if err := e.Machine.Store.UpdateItemResult(ctx, tx.Tx(), item); err != nil {
			return nil, err
		}

		actor := model.Actor{Kind: model.ActorAgent, ID: item.LeasedByAgentID}
		if actor.ID == "" {
			actor = model.SystemActor
		}
		if err := tx.TransitionItem(ctx, item, model.ItemSubmitted, actor, lifecycle.EventOpts{
			Payload: map[string]any{"assembled": true, "parts": len(latest)},
		}); err != nil {
			return nil, err
		}
		if err := tx.RecordEvent(ctx, item.OrderID, item.ID, lifecycle.EvFinalized, actor, lifecycle.EventOpts{
			Payload: map[string]any{"mode": mode, "parts": len(latest)},
		}); err != nil {
			return nil, err
		}

		if err := e.promoteOrderIfAllIn(ctx, tx, order, actor); err != nil {
			return nil, err
		}
		return &FinalizeResponse{Item: item, OrderState: order.State}, nil
	})
	if err != nil {
		return nil, err
	}
	var resp FinalizeResponse
	if err := decode(result.Response, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// checkRequiredParts compares the validated latest part keys against the
// required set and reports every missing and unexpected key.
func checkRequiredParts(required []string, latest map[string]*model.Part) error {
	var errs []model.FieldError
	want := make(map[string]bool, len(required))
	for _, key := range required {
		want[key] = true
		if _, ok := latest[key]; !ok {
			errs = append(errs, model.FieldError{
				Field: key, Code: "missing_part",
				Message: fmt.Sprintf("required part %q has no validated submission", key),
			})
		}
	}
	extra := make([]string, 0)
	for key := range latest {
		if !want[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		errs = append(errs, model.FieldError{
			Field: key, Code: "unexpected_part",
			Message: fmt.Sprintf("part %q is not in the required set", key),
		})
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}
