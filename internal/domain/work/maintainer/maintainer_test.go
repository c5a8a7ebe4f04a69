// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package maintainer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/clock"
	"github.com/ManuGH/foreman/internal/domain/work/lease"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

func newTestMaintainer(t *testing.T, conf Config) (*Maintainer, *clock.Fake) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := lifecycle.New(st, clk, nil, nil)
	eng := lease.New(m, lease.Config{TTL: 10 * time.Minute}, nil)
	return New(m, eng, conf), clk
}

func seedOrderInState(t *testing.T, m *Maintainer, state model.OrderState) *model.Order {
	t.Helper()
	now := m.Machine.Clock.Now()
	order := &model.Order{
		ID:               uuid.NewString(),
		Type:             "echo",
		State:            state,
		Payload:          map[string]any{"message": "x"},
		RequestedByKind:  model.ActorUser,
		RequestedByID:    "tester",
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	require.NoError(t, m.Machine.Store.InsertOrder(context.Background(), m.Machine.Store.DB, order))
	return order
}

func seedItemInState(t *testing.T, m *Maintainer, orderID string, state model.ItemState) *model.Item {
	t.Helper()
	item := &model.Item{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Type:        "echo",
		State:       state,
		MaxAttempts: 3,
		Input:       map[string]any{"message": "x"},
		CreatedAt:   m.Machine.Clock.Now(),
	}
	require.NoError(t, m.Machine.Store.InsertItem(context.Background(), m.Machine.Store.DB, item))
	return item
}

func TestDeadLetterAfterThreshold(t *testing.T) {
	m, clk := newTestMaintainer(t, Config{DeadLetter: true})
	ctx := context.Background()

	order := seedOrderInState(t, m, model.OrderFailed)
	item := seedItemInState(t, m, order.ID, model.ItemFailed)

	// Item age is judged by its failed journal event.
	require.NoError(t, m.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		return tx.RecordEvent(ctx, order.ID, item.ID, lifecycle.EventKind(model.ItemFailed), model.SystemActor, lifecycle.EventOpts{})
	}))

	// Within the window nothing moves.
	clk.Advance(47 * time.Hour)
	rep, err := m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.DeadLetteredItems)
	assert.Zero(t, rep.DeadLetteredOrders)

	clk.Advance(2 * time.Hour)
	rep, err = m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DeadLetteredItems)
	assert.Equal(t, 1, rep.DeadLetteredOrders)

	gotItem, err := m.Machine.Store.GetItem(ctx, m.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDeadLettered, gotItem.State)

	gotOrder, err := m.Machine.Store.GetOrder(ctx, m.Machine.Store.DB, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderDeadLettered, gotOrder.State)

	// A second pass finds nothing left.
	rep, err = m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.DeadLetteredItems)
	assert.Zero(t, rep.DeadLetteredOrders)
}

func TestDeadLetterLeavesHealthyEntitiesAlone(t *testing.T) {
	m, clk := newTestMaintainer(t, Config{DeadLetter: true})
	ctx := context.Background()

	order := seedOrderInState(t, m, model.OrderQueued)
	seedItemInState(t, m, order.ID, model.ItemQueued)

	clk.Advance(100 * time.Hour)
	rep, err := m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.DeadLetteredItems)
	assert.Zero(t, rep.DeadLetteredOrders)
}

func TestStaleDetection(t *testing.T) {
	m, clk := newTestMaintainer(t, Config{DetectStale: true, EnableAlerts: true})
	ctx := context.Background()

	stale := seedOrderInState(t, m, model.OrderCheckedOut)
	done := seedOrderInState(t, m, model.OrderCompleted)

	clk.Advance(25 * time.Hour)
	rep, err := m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, rep.StaleOrders, "terminal orders are never stale")
	_ = done

	events, err := m.Machine.Store.ListEvents(ctx, m.Machine.Store.DB, store.EventFilter{
		OrderID: stale.ID, Kind: string(lifecycle.EvStale),
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Flagging never mutates the order.
	got, err := m.Machine.Store.GetOrder(ctx, m.Machine.Store.DB, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCheckedOut, got.State)
}

func TestStaleDetectionWithoutAlerts(t *testing.T) {
	m, clk := newTestMaintainer(t, Config{DetectStale: true})
	ctx := context.Background()
	stale := seedOrderInState(t, m, model.OrderQueued)

	clk.Advance(25 * time.Hour)
	rep, err := m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, rep.StaleOrders)

	events, err := m.Machine.Store.ListEvents(ctx, m.Machine.Store.DB, store.EventFilter{
		OrderID: stale.ID, Kind: string(lifecycle.EvStale),
	})
	require.NoError(t, err)
	assert.Empty(t, events, "alerting disabled means no journal entry")
}

func TestMaintainOnceReclaimsExpiredLeases(t *testing.T) {
	m, clk := newTestMaintainer(t, Config{ReclaimLeases: true})
	ctx := context.Background()

	order := seedOrderInState(t, m, model.OrderQueued)
	item := seedItemInState(t, m, order.ID, model.ItemQueued)

	_, err := m.Lease.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	rep, err := m.MaintainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReclaimedLeases)

	got, err := m.Machine.Store.GetItem(ctx, m.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemQueued, got.State)
	assert.Equal(t, 1, got.Attempts)
}

func TestDefaultConfigFallbacks(t *testing.T) {
	m, _ := newTestMaintainer(t, Config{})
	assert.Equal(t, 60*time.Second, m.Conf.Interval)
	assert.Equal(t, 48*time.Hour, m.Conf.DeadLetterAfter)
	assert.Equal(t, 24*time.Hour, m.Conf.StaleAfter)
}
