// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

func seedOrders(t *testing.T, s *Store) (low, mid, high *model.Order) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	low = testOrder(1, base)
	low.Meta = map[string]any{"tenant_id": "acme"}
	mid = testOrder(5, base.Add(time.Hour))
	mid.State = model.OrderSubmitted
	high = testOrder(9, base.Add(2*time.Hour))
	high.RequestedByKind = model.ActorAgent
	high.RequestedByID = "agent-7"

	for _, o := range []*model.Order{low, mid, high} {
		require.NoError(t, s.InsertOrder(ctx, s.DB, o))
	}
	require.NoError(t, s.InsertItem(ctx, s.DB, testItem(low.ID, base)))
	return low, mid, high
}

func TestListOrdersDefaultSort(t *testing.T) {
	s := newTestStore(t)
	low, mid, high := seedOrders(t, s)
	_ = mid

	page, err := s.ListOrders(context.Background(), OrderQuery{}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Orders, 3)
	assert.Equal(t, high.ID, page.Orders[0].ID, "priority DESC first")
	assert.Equal(t, low.ID, page.Orders[2].ID)
}

func TestListOrdersFilters(t *testing.T) {
	s := newTestStore(t)
	low, mid, high := seedOrders(t, s)

	ctx := context.Background()

	page, err := s.ListOrders(ctx, OrderQuery{State: model.OrderSubmitted}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, mid.ID, page.Orders[0].ID)

	page, err = s.ListOrders(ctx, OrderQuery{RequestedByKind: model.ActorAgent, RequestedByID: "agent-7"}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, high.ID, page.Orders[0].ID)

	page, err = s.ListOrders(ctx, OrderQuery{MetaContains: map[string]string{"tenant_id": "acme"}}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, low.ID, page.Orders[0].ID)

	page, err = s.ListOrders(ctx, OrderQuery{ItemState: model.ItemQueued}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, low.ID, page.Orders[0].ID)

	avail := true
	page, err = s.ListOrders(ctx, OrderQuery{HasAvailableItems: &avail}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, low.ID, page.Orders[0].ID)

	noAvail := false
	page, err = s.ListOrders(ctx, OrderQuery{HasAvailableItems: &noAvail}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
}

func TestListOrdersCompares(t *testing.T) {
	s := newTestStore(t)
	_, mid, high := seedOrders(t, s)
	ctx := context.Background()

	page, err := s.ListOrders(ctx, OrderQuery{
		Compares: []Compare{{Field: "priority", Op: OpGTE, Value: 5}},
	}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)

	cutoff := time.Date(2026, 8, 1, 13, 30, 0, 0, time.UTC)
	page, err = s.ListOrders(ctx, OrderQuery{
		Compares: []Compare{{Field: "created_at", Op: OpGT, Value: cutoff}},
	}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, high.ID, page.Orders[0].ID)
	_ = mid

	_, err = s.ListOrders(ctx, OrderQuery{
		Compares: []Compare{{Field: "payload", Op: OpGT, Value: 1}},
	}, 50, 100, time.Now())
	assert.Error(t, err, "unknown compare field must be rejected")
}

func TestListOrdersPagination(t *testing.T) {
	s := newTestStore(t)
	seedOrders(t, s)
	ctx := context.Background()

	page, err := s.ListOrders(ctx, OrderQuery{Page: 1, PageSize: 2, SortField: "created_at"}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Orders, 2)

	page2, err := s.ListOrders(ctx, OrderQuery{Page: 2, PageSize: 2, SortField: "created_at"}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Len(t, page2.Orders, 1)
	assert.True(t, page.Orders[0].CreatedAt.Before(page2.Orders[0].CreatedAt))

	// Page size is clamped to the hard cap.
	clamped, err := s.ListOrders(ctx, OrderQuery{PageSize: 9999}, 50, 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, clamped.PageSize)
}

func TestListOrdersSortByItemsCount(t *testing.T) {
	s := newTestStore(t)
	low, _, _ := seedOrders(t, s)
	ctx := context.Background()

	page, err := s.ListOrders(ctx, OrderQuery{SortField: "items_count", SortDesc: true}, 50, 100, time.Now())
	require.NoError(t, err)
	require.Len(t, page.Orders, 3)
	assert.Equal(t, low.ID, page.Orders[0].ID, "only order with an item sorts first")
}
