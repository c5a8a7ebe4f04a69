// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command daemon runs the work-order control plane: the HTTP API, the lease
// engine and the background maintainer, all over one SQLite database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/foreman/internal/api"
	"github.com/ManuGH/foreman/internal/clock"
	"github.com/ManuGH/foreman/internal/config"
	"github.com/ManuGH/foreman/internal/domain/work/allocator"
	"github.com/ManuGH/foreman/internal/domain/work/executor"
	"github.com/ManuGH/foreman/internal/domain/work/idempotency"
	"github.com/ManuGH/foreman/internal/domain/work/lease"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/maintainer"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/ordertype"
	"github.com/ManuGH/foreman/internal/domain/work/store"
	"github.com/ManuGH/foreman/internal/log"
	"github.com/ManuGH/foreman/internal/metrics"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: cfg.Log.Service})
	if cfg.Metrics.Namespace != metrics.DefaultNamespace {
		metrics.Configure(cfg.Metrics.Namespace)
	}
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("daemon")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info().Str("path", cfg.Database.Path).Msg("store opened")

	registry := ordertype.NewRegistry()
	registry.MustRegister(&ordertype.Echo{})

	machine := lifecycle.New(st, clock.Real{},
		orderGraph(cfg.StateGraph.Orders), itemGraph(cfg.StateGraph.Items))
	machine.Subscribe(func(n lifecycle.Notification) {
		if n.To == "" {
			return
		}
		entity := "order"
		if n.ItemID != "" {
			entity = "item"
		}
		metrics.RecordTransition(entity, n.To)
	})

	guard := &idempotency.Guard{Machine: machine, Required: requiredOps(cfg.Idempotency.RequiredOps)}

	var backend lease.Backend
	if cfg.Lease.Backend == "redis" {
		backend = lease.NewRedisBackend(cfg.Lease.RedisAddr)
		logger.Info().Str("addr", cfg.Lease.RedisAddr).Msg("redis lease backend enabled")
	}
	engine := lease.New(machine, lease.Config{
		TTL:            time.Duration(cfg.Lease.TTLSeconds) * time.Second,
		HeartbeatEvery: time.Duration(cfg.Lease.HeartbeatSeconds) * time.Second,
		AcquireRetries: cfg.Lease.AcquireRetries,
	}, backend)

	alloc := allocator.New(machine, registry, cfg.Retry.DefaultMaxAttempts)
	exec := executor.New(machine, registry, guard, executor.AutoApproveMode(cfg.Executor.AutoApprove))

	maint := maintainer.New(machine, engine, maintainer.Config{
		Interval:        time.Duration(cfg.Maintenance.IntervalSeconds) * time.Second,
		DeadLetterAfter: time.Duration(cfg.Maintenance.DeadLetterAfterHours) * time.Hour,
		StaleAfter:      time.Duration(cfg.Maintenance.StaleAfterHours) * time.Hour,
		ReclaimLeases:   cfg.Maintenance.ReclaimLeases,
		DeadLetter:      cfg.Maintenance.DeadLetter,
		DetectStale:     cfg.Maintenance.DetectStale,
		EnableAlerts:    cfg.Maintenance.EnableAlerts,
	})
	gen := &maintainer.Generator{Allocator: alloc}

	srv := &api.Server{
		Conf:       cfg,
		Store:      st,
		Machine:    machine,
		Allocator:  alloc,
		Lease:      engine,
		Executor:   exec,
		Guard:      guard,
		Maintainer: maint,
		Generator:  gen,
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		maint.Run(ctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("listen", cfg.Server.Listen).Msg("http server started")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// requiredOps converts the configured list into the guard's lookup set.
func requiredOps(ops []string) map[string]bool {
	if len(ops) == 0 {
		return idempotency.DefaultRequired()
	}
	set := make(map[string]bool, len(ops))
	for _, op := range ops {
		set[op] = true
	}
	return set
}

// orderGraph resolves config overrides into the order transition graph.
func orderGraph(overrides map[string][]string) lifecycle.Graph[model.OrderState] {
	if len(overrides) == 0 {
		return lifecycle.DefaultOrderGraph()
	}
	edges := make(map[model.OrderState][]model.OrderState, len(overrides))
	for from, tos := range overrides {
		targets := make([]model.OrderState, len(tos))
		for i, to := range tos {
			targets[i] = model.OrderState(to)
		}
		edges[model.OrderState(from)] = targets
	}
	return lifecycle.NewGraph(edges)
}

// itemGraph resolves config overrides into the item transition graph.
func itemGraph(overrides map[string][]string) lifecycle.Graph[model.ItemState] {
	if len(overrides) == 0 {
		return lifecycle.DefaultItemGraph()
	}
	edges := make(map[model.ItemState][]model.ItemState, len(overrides))
	for from, tos := range overrides {
		targets := make([]model.ItemState, len(tos))
		for i, to := range tos {
			targets[i] = model.ItemState(to)
		}
		edges[model.ItemState(from)] = targets
	}
	return lifecycle.NewGraph(edges)
}
