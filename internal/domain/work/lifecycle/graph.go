// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/foreman/internal/domain/work/model"

// Graph is a directed set of allowed state transitions.
type Graph[S ~string] map[S]map[S]bool

// NewGraph builds a graph from an adjacency list, typically config-supplied.
func NewGraph[S ~string](edges map[S][]S) Graph[S] {
	g := make(Graph[S], len(edges))
	for from, tos := range edges {
		set := make(map[S]bool, len(tos))
		for _, to := range tos {
			set[to] = true
		}
		g[from] = set
	}
	return g
}

// Allowed reports whether from -> to is a legal edge.
func (g Graph[S]) Allowed(from, to S) bool {
	return g[from][to]
}

// DefaultOrderGraph returns the built-in order transition graph.
// Every non-terminal state may fail; failed orders may be dead-lettered.
func DefaultOrderGraph() Graph[model.OrderState] {
	return NewGraph(map[model.OrderState][]model.OrderState{
		model.OrderQueued:     {model.OrderCheckedOut, model.OrderRejected, model.OrderFailed},
		model.OrderCheckedOut: {model.OrderInProgress, model.OrderSubmitted, model.OrderQueued, model.OrderFailed},
		model.OrderInProgress: {model.OrderSubmitted, model.OrderFailed},
		model.OrderSubmitted:  {model.OrderApproved, model.OrderRejected, model.OrderFailed},
		model.OrderApproved:   {model.OrderApplied, model.OrderFailed},
		model.OrderApplied:    {model.OrderCompleted, model.OrderFailed},
		model.OrderRejected:   {model.OrderQueued, model.OrderFailed},
		model.OrderFailed:     {model.OrderDeadLettered},
	})
}

// DefaultItemGraph returns the built-in item transition graph.
// rejected is terminal for items; rework happens at the order level.
func DefaultItemGraph() Graph[model.ItemState] {
	return NewGraph(map[model.ItemState][]model.ItemState{
		model.ItemQueued:     {model.ItemLeased, model.ItemRejected, model.ItemFailed},
		model.ItemLeased:     {model.ItemInProgress, model.ItemSubmitted, model.ItemQueued, model.ItemFailed},
		model.ItemInProgress: {model.ItemSubmitted, model.ItemQueued, model.ItemFailed},
		model.ItemSubmitted:  {model.ItemAccepted, model.ItemRejected, model.ItemQueued, model.ItemFailed},
		model.ItemAccepted:   {model.ItemCompleted, model.ItemFailed},
		model.ItemFailed:     {model.ItemDeadLettered},
	})
}
