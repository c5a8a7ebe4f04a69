// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error   string             `json:"error"`
	Message string             `json:"message,omitempty"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes and a stable error
// code vocabulary.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: "validation_failed", Message: ve.Error(), Fields: ve.Errors,
		})
		return
	}
	var it *model.IllegalTransitionError
	if errors.As(err, &it) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "illegal_transition", Message: it.Error()})
		return
	}
	var ae *model.ApplyError
	if errors.As(err, &ae) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "apply_failed", Message: ae.Error()})
		return
	}

	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrOrderTypeNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, model.ErrNoItemsAvailable):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no_items_available", Message: err.Error()})
	case errors.Is(err, model.ErrLeaseConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "lease_conflict", Message: err.Error()})
	case errors.Is(err, model.ErrLeaseExpired):
		writeJSON(w, http.StatusConflict, errorBody{Error: "lease_expired", Message: err.Error()})
	case errors.Is(err, model.ErrNotReadyForApproval):
		writeJSON(w, http.StatusConflict, errorBody{Error: "not_ready_for_approval", Message: err.Error()})
	case errors.Is(err, model.ErrIdempotencyKeyRequired):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "idempotency_key_required", Message: err.Error()})
	case errors.Is(err, model.ErrForbiddenDirectMutation):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden_direct_mutation", Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: err.Error()})
	}
}

// writeBadRequest reports a malformed request body or parameter.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}
