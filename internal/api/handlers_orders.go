// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/foreman/internal/domain/work/allocator"
	"github.com/ManuGH/foreman/internal/domain/work/executor"
	"github.com/ManuGH/foreman/internal/domain/work/idempotency"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

type proposeRequest struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Meta     map[string]any `json:"meta,omitempty"`
	Priority int            `json:"priority"`
	Actor    *model.Actor   `json:"actor,omitempty"`
	Agent    struct {
		Name    string `json:"name,omitempty"`
		Version string `json:"version,omitempty"`
	} `json:"agent,omitempty"`
}

type orderResponse struct {
	Order *model.Order  `json:"order"`
	Items []*model.Item `json:"items,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	var req proposeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeBadRequest(w, "type is required")
		return
	}

	actor := model.Actor{Kind: model.ActorUser, ID: "anonymous"}
	if req.Actor != nil {
		actor = *req.Actor
	}

	key := s.idempotencyKey(r)
	preq := allocator.ProposeRequest{
		Type:               req.Type,
		Payload:            req.Payload,
		Meta:               req.Meta,
		Priority:           req.Priority,
		Actor:              actor,
		AgentName:          req.Agent.Name,
		AgentVersion:       req.Agent.Version,
		RequestFingerprint: idempotency.HashKey(string(body)),
	}
	if key != "" {
		preq.IdempotencyKeyHash = idempotency.HashKey(key)
	}

	result, err := s.Guard.Do(r.Context(), "propose", "propose:"+req.Type, key, func(tx *lifecycle.Txn) (any, error) {
		order, err := s.Allocator.ProposeTx(r.Context(), tx, preq)
		if err != nil {
			return nil, err
		}
		items, err := s.Store.ListItemsByOrder(r.Context(), tx.Tx(), order.ID)
		if err != nil {
			return nil, err
		}
		return orderResponse{Order: order, Items: items}, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(result.Response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := s.Store.GetOrder(r.Context(), s.Store.DB, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.Store.ListItemsByOrder(r.Context(), s.Store.DB, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order, Items: items})
}

// handleListOrders is the query surface: equality filters, relational
// predicates on priority and timestamps, meta containment, availability and
// sorting, all paginated.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qry := store.OrderQuery{
		ID:              q.Get("id"),
		State:           model.OrderState(q.Get("state")),
		Type:            q.Get("type"),
		RequestedByKind: model.ActorKind(q.Get("requested_by_kind")),
		RequestedByID:   q.Get("requested_by_id"),
		ItemState:       model.ItemState(q.Get("item_state")),
	}

	for key, values := range q {
		if !strings.HasPrefix(key, "meta.") || len(values) == 0 {
			continue
		}
		if qry.MetaContains == nil {
			qry.MetaContains = make(map[string]string)
		}
		qry.MetaContains[strings.TrimPrefix(key, "meta.")] = values[0]
	}

	if v := q.Get("has_available_items"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "has_available_items must be a boolean")
			return
		}
		qry.HasAvailableItems = &b
	}

	compares, err := parseCompares(q)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	qry.Compares = compares

	if sort := q.Get("sort"); sort != "" {
		if strings.HasPrefix(sort, "-") {
			qry.SortDesc = true
			sort = strings.TrimPrefix(sort, "-")
		}
		qry.SortField = sort
	}
	if v := q.Get("page"); v != "" {
		qry.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		qry.PageSize, _ = strconv.Atoi(v)
	}

	page, err := s.Store.ListOrders(r.Context(), qry,
		s.Conf.Query.DefaultPageSize, s.Conf.Query.MaxPageSize, s.Machine.Clock.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// compareParams maps query parameter suffixes onto relational operators.
var compareParams = map[string]store.CompareOp{
	"_gt":  store.OpGT,
	"_gte": store.OpGTE,
	"_lt":  store.OpLT,
	"_lte": store.OpLTE,
}

// parseCompares turns params like priority_gte=5 or created_at_lt=<RFC3339>
// into relational predicates.
func parseCompares(q map[string][]string) ([]store.Compare, error) {
	var out []store.Compare
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		for suffix, op := range compareParams {
			if !strings.HasSuffix(key, suffix) {
				continue
			}
			field := strings.TrimSuffix(key, suffix)
			value, err := parseCompareValue(field, values[0])
			if err != nil {
				return nil, err
			}
			out = append(out, store.Compare{Field: field, Op: op, Value: value})
			break
		}
	}
	return out, nil
}

func parseCompareValue(field, raw string) (any, error) {
	if field == "priority" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errInvalidParam(field, "an integer")
		}
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errInvalidParam(field, "an RFC3339 timestamp")
	}
	return t, nil
}

type paramError struct{ field, want string }

func (e paramError) Error() string { return e.field + " must be " + e.want }

func errInvalidParam(field, want string) error { return paramError{field: field, want: want} }

func (s *Server) handleOrderLogs(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if _, err := s.Store.GetOrder(r.Context(), s.Store.DB, orderID); err != nil {
		writeError(w, err)
		return
	}

	filter := store.EventFilter{OrderID: orderID, Kind: r.URL.Query().Get("kind")}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	events, err := s.Store.ListEvents(r.Context(), s.Store.DB, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type approveRequest struct {
	Actor *model.Actor `json:"actor,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actor := model.Actor{Kind: model.ActorUser, ID: "anonymous"}
	if req.Actor != nil {
		actor = *req.Actor
	}

	resp, err := s.Executor.Approve(r.Context(), executor.ApproveRequest{
		OrderID:        chi.URLParam(r, "orderID"),
		Actor:          actor,
		IdempotencyKey: s.idempotencyKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type rejectRequest struct {
	Reason      string             `json:"reason"`
	Errors      []model.FieldError `json:"errors,omitempty"`
	AllowRework bool               `json:"allowRework"`
	Actor       *model.Actor       `json:"actor,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actor := model.Actor{Kind: model.ActorUser, ID: "anonymous"}
	if req.Actor != nil {
		actor = *req.Actor
	}

	order, err := s.Executor.Reject(r.Context(), executor.RejectRequest{
		OrderID:        chi.URLParam(r, "orderID"),
		Errors:         req.Errors,
		Reason:         req.Reason,
		AllowRework:    req.AllowRework,
		Actor:          actor,
		IdempotencyKey: s.idempotencyKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// decodeBody parses an optional JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errInvalidParam("body", "readable")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errInvalidParam("body", "valid JSON")
	}
	return nil
}
