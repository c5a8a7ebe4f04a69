// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// Order is a unit of intent: a request to perform some change, planned into
// one or more items. State only changes through the lifecycle machine.
type Order struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	State             OrderState     `json:"state"`
	Priority          int            `json:"priority"`
	Payload           map[string]any `json:"payload"`
	Meta              map[string]any `json:"meta,omitempty"`
	RequestedByKind   ActorKind      `json:"requestedByKind"`
	RequestedByID     string         `json:"requestedById"`
	CreatedAt         time.Time      `json:"createdAt"`
	LastTransitionAt  time.Time      `json:"lastTransitionAt"`
	AppliedAt         time.Time      `json:"appliedAt,omitzero"`
	CompletedAt       time.Time      `json:"completedAt,omitzero"`
}

// Item is a single leasable, agent-executable unit of an order.
// Lease columns are owned by the lease engine; result columns by the executor.
type Item struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"orderId"`
	Type            string         `json:"type"`
	State           ItemState      `json:"state"`
	Attempts        int            `json:"attempts"`
	MaxAttempts     int            `json:"maxAttempts"`
	Input           map[string]any `json:"input"`
	Result          map[string]any `json:"result,omitempty"`
	AssembledResult map[string]any `json:"assembledResult,omitempty"`
	PartsRequired   []string       `json:"partsRequired,omitempty"`
	PartsState      PartsState     `json:"partsState,omitempty"`
	Error           *ErrorDetail   `json:"error,omitempty"`
	LeasedByAgentID string         `json:"leasedByAgentId,omitempty"`
	LeaseExpiresAt  time.Time      `json:"leaseExpiresAt,omitzero"`
	LastHeartbeatAt time.Time      `json:"lastHeartbeatAt,omitzero"`
	AcceptedAt      time.Time      `json:"acceptedAt,omitzero"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// HasLiveLease reports whether the item carries an unexpired lease at now.
func (i *Item) HasLiveLease(now time.Time) bool {
	return i.LeasedByAgentID != "" && i.LeaseExpiresAt.After(now)
}

// PartsState summarises part progress per part key.
type PartsState map[string]PartProgress

// PartProgress is the latest observed status for one part key.
type PartProgress struct {
	Status PartStatus `json:"status"`
	Seq    *int       `json:"seq,omitempty"`
}

// Part is an incremental piece of an item's result, keyed by PartKey and
// assembled at finalize time. (ItemID, PartKey, Seq) is unique; a NULL Seq
// never collides with another NULL Seq on insert.
type Part struct {
	ID         int64          `json:"id"`
	ItemID     string         `json:"itemId"`
	PartKey    string         `json:"partKey"`
	Seq        *int           `json:"seq,omitempty"`
	Status     PartStatus     `json:"status"`
	Payload    map[string]any `json:"payload"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Errors     []FieldError   `json:"errors,omitempty"`
	Checksum   string         `json:"checksum"`
	AgentID    string         `json:"agentId"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Event is an append-only journal record. Only CreatedAt is tracked.
type Event struct {
	ID        int64          `json:"id"`
	OrderID   string         `json:"orderId"`
	ItemID    string         `json:"itemId,omitempty"`
	Kind      string         `json:"event"`
	ActorKind ActorKind      `json:"actorKind"`
	ActorID   string         `json:"actorId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Diff      *Diff          `json:"diff,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Provenance captures who invoked a mutation, for audit.
type Provenance struct {
	ID                 int64             `json:"id"`
	OrderID            string            `json:"orderId,omitempty"`
	ItemID             string            `json:"itemId,omitempty"`
	AgentID            string            `json:"agentId"`
	AgentName          string            `json:"agentName,omitempty"`
	AgentVersion       string            `json:"agentVersion,omitempty"`
	RequestFingerprint string            `json:"requestFingerprint,omitempty"`
	IdempotencyKeyHash string            `json:"idempotencyKeyHash,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// ErrorDetail is the structured error stored on a failed item.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// ItemSpec is what an order type's plan step yields per item.
type ItemSpec struct {
	Type          string         `json:"type"`
	Input         map[string]any `json:"input"`
	MaxAttempts   int            `json:"maxAttempts,omitempty"`
	PartsRequired []string       `json:"partsRequired,omitempty"`
}

// Actor pairs the kind and id of whoever triggers an operation.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// SystemActor is the built-in actor for scheduler-driven mutations.
var SystemActor = Actor{Kind: ActorSystem, ID: SystemScheduler}
