// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the control plane over HTTP: proposal, checkout,
// submission, approval, the query surface and operational endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/foreman/internal/api/middleware"
	"github.com/ManuGH/foreman/internal/config"
	"github.com/ManuGH/foreman/internal/domain/work/allocator"
	"github.com/ManuGH/foreman/internal/domain/work/executor"
	"github.com/ManuGH/foreman/internal/domain/work/idempotency"
	"github.com/ManuGH/foreman/internal/domain/work/lease"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/maintainer"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

// Server wires the domain services into HTTP handlers.
type Server struct {
	Conf       config.Config
	Store      *store.Store
	Machine    *lifecycle.Machine
	Allocator  *allocator.Allocator
	Lease      *lease.Engine
	Executor   *executor.Executor
	Guard      *idempotency.Guard
	Maintainer *maintainer.Maintainer
	Generator  *maintainer.Generator
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.OTelHTTP("foreman"))
	r.Use(middleware.Logging)
	r.Use(middleware.RateLimit(s.Conf.Server.RateLimitPerMin))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.Conf.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handlePropose)
			r.Get("/", s.handleListOrders)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", s.handleGetOrder)
				r.Get("/logs", s.handleOrderLogs)
				r.Post("/checkout", s.handleCheckoutOrder)
				r.Post("/approve", s.handleApprove)
				r.Post("/reject", s.handleReject)
			})
		})

		r.Post("/checkout", s.handleCheckout)

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", s.handleGetItem)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/submit", s.handleSubmit)
			r.Post("/parts", s.handleSubmitPart)
			r.Get("/parts", s.handleListParts)
			r.Post("/finalize", s.handleFinalize)
			r.Post("/release", s.handleRelease)
			r.Post("/fail", s.handleFailItem)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/run", s.handleMaintain)
			r.Post("/generate", s.handleGenerate)
		})
	})

	return r
}

// idempotencyKey reads the configured idempotency header.
func (s *Server) idempotencyKey(r *http.Request) string {
	header := s.Conf.Idempotency.Header
	if header == "" {
		header = "Idempotency-Key"
	}
	return r.Header.Get(header)
}
