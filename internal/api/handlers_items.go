// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/foreman/internal/domain/work/executor"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
	"github.com/ManuGH/foreman/internal/log"
)

type checkoutRequest struct {
	AgentID     string `json:"agentId"`
	ItemType    string `json:"itemType,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
	MinPriority *int   `json:"minPriority,omitempty"`
}

type checkoutResponse struct {
	Item                  *model.Item `json:"item"`
	LeaseTTLSeconds       int         `json:"leaseTtlSeconds"`
	HeartbeatEverySeconds int         `json:"heartbeatEverySeconds"`
}

// agentID resolves the calling agent: body first, X-Agent-ID header fallback.
func agentID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return log.AgentIDFromContext(r.Context())
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request, f store.AvailableFilter) {
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		writeBadRequest(w, "agentId is required")
		return
	}
	f.ItemType = req.ItemType
	f.TenantID = req.TenantID
	if req.MinPriority != nil {
		f.MinPriority = req.MinPriority
	}

	item, err := s.Lease.Checkout(r.Context(), f, agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		Item:                  item,
		LeaseTTLSeconds:       int(s.Lease.Conf.TTL.Seconds()),
		HeartbeatEverySeconds: int(s.Lease.Conf.HeartbeatEvery.Seconds()),
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	s.checkout(w, r, store.AvailableFilter{})
}

func (s *Server) handleCheckoutOrder(w http.ResponseWriter, r *http.Request) {
	s.checkout(w, r, store.AvailableFilter{OrderID: chi.URLParam(r, "orderID")})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.Store.GetItem(r.Context(), s.Store.DB, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

type heartbeatRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		writeBadRequest(w, "agentId is required")
		return
	}
	expiry, err := s.Lease.Extend(r.Context(), chi.URLParam(r, "itemID"), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaseExpiresAt": expiry})
}

type releaseRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		writeBadRequest(w, "agentId is required")
		return
	}
	item, err := s.Lease.Release(r.Context(), chi.URLParam(r, "itemID"), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

type submitRequest struct {
	AgentID  string         `json:"agentId"`
	Result   map[string]any `json:"result"`
	Evidence map[string]any `json:"evidence,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		writeBadRequest(w, "agentId is required")
		return
	}

	resp, err := s.Executor.Submit(r.Context(), executor.SubmitRequest{
		ItemID:         chi.URLParam(r, "itemID"),
		Result:         req.Result,
		Evidence:       req.Evidence,
		Notes:          req.Notes,
		AgentID:        agent,
		IdempotencyKey: s.idempotencyKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitPartRequest struct {
	AgentID  string         `json:"agentId"`
	PartKey  string         `json:"partKey"`
	Seq      *int           `json:"seq,omitempty"`
	Payload  map[string]any `json:"payload"`
	Evidence map[string]any `json:"evidence,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

func (s *Server) handleSubmitPart(w http.ResponseWriter, r *http.Request) {
	var req submitPartRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		writeBadRequest(w, "agentId is required")
		return
	}
	if req.PartKey == "" {
		writeBadRequest(w, "partKey is required")
		return
	}

	resp, err := s.Executor.SubmitPart(r.Context(), executor.SubmitPartRequest{
		ItemID:         chi.URLParam(r, "itemID"),
		PartKey:        req.PartKey,
		Seq:            req.Seq,
		Payload:        req.Payload,
		Evidence:       req.Evidence,
		Notes:          req.Notes,
		AgentID:        agent,
		IdempotencyKey: s.idempotencyKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	parts, err := s.Executor.ListParts(r.Context(), chi.URLParam(r, "itemID"), store.PartFilter{
		PartKey: r.URL.Query().Get("part_key"),
		Status:  model.PartStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parts": parts})
}

type finalizeRequest struct {
	Mode model.FinalizeMode `json:"mode,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	resp, err := s.Executor.FinalizeItem(r.Context(), executor.FinalizeRequest{
		ItemID:         chi.URLParam(r, "itemID"),
		Mode:           req.Mode,
		IdempotencyKey: s.idempotencyKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type failRequest struct {
	AgentID string             `json:"agentId"`
	Code    string             `json:"code"`
	Message string             `json:"message,omitempty"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

func (s *Server) handleFailItem(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Code == "" {
		req.Code = "agent_failure"
	}
	actor := model.SystemActor
	if agent := agentID(r, req.AgentID); agent != "" {
		actor = model.Actor{Kind: model.ActorAgent, ID: agent}
	}

	item, err := s.Executor.Fail(r.Context(), chi.URLParam(r, "itemID"), &model.ErrorDetail{
		Code:    req.Code,
		Message: req.Message,
		Fields:  req.Fields,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}
