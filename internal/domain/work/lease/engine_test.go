// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lease

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/clock"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

func newTestEngine(t *testing.T, backend Backend) (*Engine, *clock.Fake) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := lifecycle.New(st, clk, nil, nil)
	return New(m, Config{TTL: 10 * time.Minute, HeartbeatEvery: 2 * time.Minute}, backend), clk
}

func seedQueued(t *testing.T, e *Engine, priority int) (*model.Order, *model.Item) {
	t.Helper()
	ctx := context.Background()
	now := e.Machine.Clock.Now()
	order := &model.Order{
		ID:               uuid.NewString(),
		Type:             "echo",
		State:            model.OrderQueued,
		Priority:         priority,
		Payload:          map[string]any{"message": "hi"},
		RequestedByKind:  model.ActorUser,
		RequestedByID:    "tester",
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	require.NoError(t, e.Machine.Store.InsertOrder(ctx, e.Machine.Store.DB, order))

	item := &model.Item{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Type:        "echo",
		State:       model.ItemQueued,
		MaxAttempts: 2,
		Input:       map[string]any{"message": "hi"},
		CreatedAt:   now,
	}
	require.NoError(t, e.Machine.Store.InsertItem(ctx, e.Machine.Store.DB, item))
	return order, item
}

func TestAcquireAndConflict(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	order, item := seedQueued(t, e, 0)

	got, err := e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemLeased, got.State)
	assert.Equal(t, "agent-1", got.LeasedByAgentID)
	assert.Equal(t, e.Machine.Clock.Now().Add(e.Conf.TTL).UnixMilli(), got.LeaseExpiresAt.UnixMilli())

	// The parent order follows the first checkout.
	o, err := e.Machine.Store.GetOrder(ctx, e.Machine.Store.DB, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCheckedOut, o.State)

	_, err = e.Acquire(ctx, item.ID, "agent-2")
	assert.ErrorIs(t, err, model.ErrLeaseConflict)
}

func TestCheckoutPicksByPriorityThenAge(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	_, lowItem := seedQueued(t, e, 1)
	_, highItem := seedQueued(t, e, 9)

	first, err := e.Checkout(ctx, store.AvailableFilter{}, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, highItem.ID, first.ID)

	second, err := e.Checkout(ctx, store.AvailableFilter{}, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, lowItem.ID, second.ID)

	_, err = e.Checkout(ctx, store.AvailableFilter{}, "agent-1")
	assert.ErrorIs(t, err, model.ErrNoItemsAvailable)
}

func TestCheckoutRaceYieldsSingleWinner(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	_, item := seedQueued(t, e, 0)

	const agents = 8
	leased := make([]*model.Item, agents)
	errs := make([]error, agents)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(agents)
	for i := 0; i < agents; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			leased[i], errs[i] = e.Checkout(ctx, store.AvailableFilter{}, fmt.Sprintf("agent-%d", i))
		}(i)
	}
	start.Done()
	done.Wait()

	winners := 0
	for i := range errs {
		if errs[i] == nil {
			winners++
			assert.Equal(t, fmt.Sprintf("agent-%d", i), leased[i].LeasedByAgentID)
			continue
		}
		lost := errors.Is(errs[i], model.ErrLeaseConflict) || errors.Is(errs[i], model.ErrNoItemsAvailable)
		assert.True(t, lost, "agent-%d: %v", i, errs[i])
	}
	assert.Equal(t, 1, winners, "exactly one checkout wins the item")

	got, err := e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemLeased, got.State)
	assert.NotEmpty(t, got.LeasedByAgentID)
}

func TestExtendOwnershipAndExpiry(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	ctx := context.Background()
	_, item := seedQueued(t, e, 0)

	_, err := e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	expiry, err := e.Extend(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(e.Conf.TTL).UnixMilli(), expiry.UnixMilli())

	_, err = e.Extend(ctx, item.ID, "agent-2")
	assert.ErrorIs(t, err, model.ErrLeaseConflict)

	clk.Advance(e.Conf.TTL + time.Second)
	_, err = e.Extend(ctx, item.ID, "agent-1")
	assert.ErrorIs(t, err, model.ErrLeaseExpired)
}

func TestReleaseRequeuesItemAndOrder(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	order, item := seedQueued(t, e, 0)

	_, err := e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)

	_, err = e.Release(ctx, item.ID, "agent-2")
	assert.ErrorIs(t, err, model.ErrLeaseConflict)

	released, err := e.Release(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemQueued, released.State)
	assert.Empty(t, released.LeasedByAgentID)

	o, err := e.Machine.Store.GetOrder(ctx, e.Machine.Store.DB, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderQueued, o.State, "order returns to the queue when nothing is in flight")

	// Released work is immediately dispatchable again.
	id, err := e.GetNextAvailable(ctx, store.AvailableFilter{})
	require.NoError(t, err)
	assert.Equal(t, item.ID, id)
}

func TestReclaimExpiredRequeuesThenFails(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	ctx := context.Background()
	_, item := seedQueued(t, e, 0) // MaxAttempts: 2

	// First expiry: attempt 1 of 2, back to the queue.
	_, err := e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	clk.Advance(e.Conf.TTL + time.Second)

	n, err := e.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemQueued, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.LeasedByAgentID)

	// Second expiry exhausts the budget.
	_, err = e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	clk.Advance(e.Conf.TTL + time.Second)

	n, err = e.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemFailed, got.State)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, "lease_expired_max_attempts", got.Error.Code)

	events, err := e.Machine.Store.ListEvents(ctx, e.Machine.Store.DB, store.EventFilter{
		ItemID: item.ID, Kind: string(lifecycle.EvLeaseExpired),
	})
	require.NoError(t, err)
	assert.Len(t, events, 2, "each expiry is journalled")
}

func TestReclaimSkipsLiveLeases(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	ctx := context.Background()
	_, item := seedQueued(t, e, 0)

	_, err := e.Acquire(ctx, item.ID, "agent-1")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	n, err := e.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := e.Machine.Store.GetItem(ctx, e.Machine.Store.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemLeased, got.State)
}
