// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ordertype defines the contract a registered order type must satisfy
// and the registry resolving type ids to instances. Optional hooks are
// expressed as optional interfaces with package-level defaults, not an
// inheritance chain.
package ordertype

import (
	"context"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// OrderType is the mandatory operation set of a registered type.
type OrderType interface {
	// Type returns the registry key.
	Type() string
	// Schema returns the JSON-schema-like map order payloads must satisfy.
	Schema() map[string]any
	// Plan expands a proposed order into item specs.
	Plan(order *model.Order) ([]model.ItemSpec, error)
	// AcceptancePolicy returns the policy judging submissions and approval
	// readiness.
	AcceptancePolicy() AcceptancePolicy
	// Apply performs the downstream domain change and returns its diff.
	// Implementations must be idempotent: a second invocation on an already
	// applied order yields an empty or equivalent diff.
	Apply(ctx context.Context, order *model.Order, items []*model.Item) (*model.Diff, error)
}

// AcceptancePolicy judges submissions and approval readiness.
type AcceptancePolicy interface {
	// ValidateSubmission checks an item's submitted result. A returned
	// *model.ValidationError carries field-level detail.
	ValidateSubmission(item *model.Item, result map[string]any) error
	// ReadyForApproval reports whether the order may be approved given its
	// current items.
	ReadyForApproval(order *model.Order, items []*model.Item) bool
}

// Optional hooks. The executor feature-detects these on the registered type.

// BeforeApplier runs immediately before Apply in the same transaction.
type BeforeApplier interface {
	BeforeApply(ctx context.Context, order *model.Order) error
}

// AfterApplier runs after Apply with the produced diff.
type AfterApplier interface {
	AfterApply(ctx context.Context, order *model.Order, diff *model.Diff) error
}

// PartialRuler validates an incoming part before it is stored.
type PartialRuler interface {
	PartialRules(item *model.Item, partKey string, seq *int, payload map[string]any) error
}

// PartObserver runs after a part passed validation, before it is stored.
type PartObserver interface {
	AfterValidatePart(item *model.Item, part *model.Part) error
}

// RequiredParter overrides the item's own parts_required set.
type RequiredParter interface {
	RequiredParts(item *model.Item) []string
}

// Assembler combines the latest validated parts into the item result.
type Assembler interface {
	Assemble(item *model.Item, latest map[string]*model.Part) (map[string]any, error)
}

// AssembledValidator checks the assembled result before the item is submitted.
type AssembledValidator interface {
	ValidateAssembled(item *model.Item, assembled map[string]any) error
}

// AutoApprover marks a type whose orders are approved by the system as soon
// as they are ready.
type AutoApprover interface {
	AutoApprove() bool
}

// RequiredParts resolves the effective required part keys for an item: the
// type hook wins, the item's own declaration is the fallback.
func RequiredParts(t OrderType, item *model.Item) []string {
	if rp, ok := t.(RequiredParter); ok {
		return rp.RequiredParts(item)
	}
	return item.PartsRequired
}

// DefaultAssemble is the fallback assembly rule: merge parts by key.
func DefaultAssemble(latest map[string]*model.Part) map[string]any {
	out := make(map[string]any, len(latest))
	for key, p := range latest {
		out[key] = p.Payload
	}
	return out
}

// Assemble runs the type's assembler or the default merge.
func Assemble(t OrderType, item *model.Item, latest map[string]*model.Part) (map[string]any, error) {
	if a, ok := t.(Assembler); ok {
		return a.Assemble(item, latest)
	}
	return DefaultAssemble(latest), nil
}
