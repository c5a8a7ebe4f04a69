// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// OrderState is the client-visible lifecycle for a work order.
// Keep these stable: the persistence schema and metrics depend on them.
type OrderState string

const (
	OrderQueued       OrderState = "queued"
	OrderCheckedOut   OrderState = "checked_out"
	OrderInProgress   OrderState = "in_progress"
	OrderSubmitted    OrderState = "submitted"
	OrderApproved     OrderState = "approved"
	OrderApplied      OrderState = "applied"
	OrderCompleted    OrderState = "completed"
	OrderRejected     OrderState = "rejected"
	OrderFailed       OrderState = "failed"
	OrderDeadLettered OrderState = "dead_lettered"
)

// IsTerminal returns true if the order will never transition again.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderDeadLettered:
		return true
	}
	return false
}

// ItemState is the lifecycle of a single leasable work item.
type ItemState string

const (
	ItemQueued       ItemState = "queued"
	ItemLeased       ItemState = "leased"
	ItemInProgress   ItemState = "in_progress"
	ItemSubmitted    ItemState = "submitted"
	ItemAccepted     ItemState = "accepted"
	ItemCompleted    ItemState = "completed"
	ItemRejected     ItemState = "rejected"
	ItemFailed       ItemState = "failed"
	ItemDeadLettered ItemState = "dead_lettered"
)

// IsTerminal returns true if the item will never transition again.
// Terminal items must have their lease columns cleared.
func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemCompleted, ItemRejected, ItemDeadLettered:
		return true
	}
	return false
}

// PartStatus is the validation outcome of a partial submission.
type PartStatus string

const (
	PartDraft     PartStatus = "draft"
	PartValidated PartStatus = "validated"
	PartRejected  PartStatus = "rejected"
)

// ActorKind classifies who caused a mutation.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAgent  ActorKind = "agent"
	ActorSystem ActorKind = "system"
)

// SystemScheduler is the actor id used by the maintainer and discovery strategies.
const SystemScheduler = "scheduler"

// FinalizeMode selects how strict part assembly is.
type FinalizeMode string

const (
	FinalizeStrict     FinalizeMode = "strict"
	FinalizeBestEffort FinalizeMode = "best_effort"
)
