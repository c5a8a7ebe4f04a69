// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package maintainer

import (
	"context"

	"github.com/ManuGH/foreman/internal/domain/work/allocator"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/log"
)

// Strategy discovers work the system should propose on its own, for example
// by scanning downstream state for drift.
type Strategy interface {
	// Name identifies the strategy in generate requests and logs.
	Name() string
	// Discover returns the proposals this pass should raise. An empty slice
	// means nothing to do.
	Discover(ctx context.Context) ([]allocator.ProposeRequest, error)
}

// Generator runs discovery strategies and proposes their findings as the
// scheduler.
type Generator struct {
	Allocator  *allocator.Allocator
	Strategies []Strategy
}

// GenerateReport summarises one generate run.
type GenerateReport struct {
	Proposed []string          `json:"proposed"` // order ids, in proposal order
	Failures map[string]string `json:"failures,omitempty"`
}

// Generate runs the named strategies, or all of them when names is empty.
// A failing strategy or proposal is recorded and skipped; discovery keeps
// going.
func (g *Generator) Generate(ctx context.Context, names []string) (GenerateReport, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	logger := log.WithComponent("generator")
	rep := GenerateReport{Proposed: []string{}}
	for _, strat := range g.Strategies {
		if len(wanted) > 0 && !wanted[strat.Name()] {
			continue
		}
		reqs, err := strat.Discover(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("strategy", strat.Name()).Msg("discovery failed")
			rep.addFailure(strat.Name(), err)
			continue
		}
		for _, req := range reqs {
			req.Actor = model.SystemActor
			order, err := g.Allocator.Propose(ctx, req)
			if err != nil {
				logger.Warn().Err(err).Str("strategy", strat.Name()).
					Str(log.FieldOrderType, req.Type).Msg("proposal failed")
				rep.addFailure(strat.Name(), err)
				continue
			}
			rep.Proposed = append(rep.Proposed, order.ID)
		}
	}
	return rep, nil
}

func (r *GenerateReport) addFailure(strategy string, err error) {
	if r.Failures == nil {
		r.Failures = make(map[string]string)
	}
	r.Failures[strategy] = err.Error()
}
