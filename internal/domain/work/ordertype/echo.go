// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ordertype

import (
	"context"
	"fmt"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// Echo is the built-in development and smoke-test order type: one item that
// echoes the proposed message back, applied as a pure diff.
type Echo struct {
	// AutoApproveEnabled approves echo orders as soon as all items are
	// submitted. Off by default.
	AutoApproveEnabled bool
}

func (e *Echo) Type() string { return "echo" }

func (e *Echo) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"message"},
		"properties": map[string]any{
			"message": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
	}
}

func (e *Echo) Plan(order *model.Order) ([]model.ItemSpec, error) {
	return []model.ItemSpec{
		{
			Type:  "echo",
			Input: map[string]any{"message": order.Payload["message"]},
		},
	}, nil
}

func (e *Echo) AcceptancePolicy() AcceptancePolicy { return echoPolicy{} }

func (e *Echo) AutoApprove() bool { return e.AutoApproveEnabled }

func (e *Echo) Apply(ctx context.Context, order *model.Order, items []*model.Item) (*model.Diff, error) {
	summary := fmt.Sprintf("Applied echo order with %d items", len(items))
	after := map[string]any{
		"message": order.Payload["message"],
		"echoed":  true,
	}
	if !order.AppliedAt.IsZero() {
		// Re-apply of an already applied order is a no-op.
		return model.NewDiff(after, after, summary), nil
	}
	return model.NewDiff(map[string]any{}, after, summary), nil
}

type echoPolicy struct{}

func (echoPolicy) ValidateSubmission(item *model.Item, result map[string]any) error {
	var errs []model.FieldError
	if ok, _ := result["ok"].(bool); !ok {
		errs = append(errs, model.FieldError{Field: "ok", Code: "required_true", Message: "result must set ok=true"})
	}
	if verified, _ := result["verified"].(bool); !verified {
		errs = append(errs, model.FieldError{Field: "verified", Code: "required_true", Message: "result must set verified=true"})
	}
	want, _ := item.Input["message"].(string)
	if got, _ := result["echoed_message"].(string); got != want {
		errs = append(errs, model.FieldError{
			Field: "echoed_message", Code: "mismatch",
			Message: fmt.Sprintf("echoed_message %q does not match input message %q", got, want),
		})
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (echoPolicy) ReadyForApproval(order *model.Order, items []*model.Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		switch it.State {
		case model.ItemSubmitted, model.ItemAccepted, model.ItemCompleted:
		default:
			return false
		}
	}
	return true
}
