// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"github.com/google/go-cmp/cmp"
)

// ChangeType classifies a single key change inside a Diff.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change records one key-level difference between the before and after maps.
type Change struct {
	Type  ChangeType `json:"type"`
	Value any        `json:"value,omitempty"`
	From  any        `json:"from,omitempty"`
	To    any        `json:"to,omitempty"`
}

// Diff is the immutable record an order type's apply step returns: snapshots
// plus the structural change set. An idempotent re-apply yields an empty
// Changes map.
type Diff struct {
	Before  map[string]any    `json:"before"`
	After   map[string]any    `json:"after"`
	Changes map[string]Change `json:"changes"`
	Summary string            `json:"summary,omitempty"`
}

// NewDiff computes the structural diff between two maps. Keys present only in
// after are added; keys present only in before are removed; keys in both with
// structurally unequal values are modified.
func NewDiff(before, after map[string]any, summary string) *Diff {
	changes := make(map[string]Change)
	for k, av := range after {
		bv, ok := before[k]
		if !ok {
			changes[k] = Change{Type: ChangeAdded, Value: av}
			continue
		}
		if !cmp.Equal(bv, av) {
			changes[k] = Change{Type: ChangeModified, From: bv, To: av}
		}
	}
	for k, bv := range before {
		if _, ok := after[k]; !ok {
			changes[k] = Change{Type: ChangeRemoved, Value: bv}
		}
	}
	return &Diff{Before: before, After: after, Changes: changes, Summary: summary}
}

// Empty reports whether the diff carries no changes.
func (d *Diff) Empty() bool {
	return d == nil || len(d.Changes) == 0
}
