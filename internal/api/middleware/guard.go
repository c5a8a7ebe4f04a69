// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"context"
	"net/http"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// HeaderWorkOrderID names the header downstream mutations must carry.
const HeaderWorkOrderID = "X-Work-Order-ID"

// OrderStateFunc resolves an order id to its current state.
type OrderStateFunc func(ctx context.Context, orderID string) (model.OrderState, error)

// RequireWorkOrder rejects mutating requests that do not reference an order
// currently in the apply window. Services embedding the control plane mount
// this in front of their own mutation endpoints so every change stays
// traceable to an approved order.
func RequireWorkOrder(state OrderStateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			id := r.Header.Get(HeaderWorkOrderID)
			if id == "" {
				forbidDirectMutation(w)
				return
			}
			st, err := state(r.Context(), id)
			if err != nil {
				forbidDirectMutation(w)
				return
			}
			switch st {
			case model.OrderApproved, model.OrderApplied:
				next.ServeHTTP(w, r)
			default:
				forbidDirectMutation(w)
			}
		})
	}
}

func forbidDirectMutation(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden_direct_mutation"}`))
}
