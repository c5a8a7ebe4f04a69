// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testOrder(priority int, createdAt time.Time) *model.Order {
	return &model.Order{
		ID:               uuid.NewString(),
		Type:             "echo",
		State:            model.OrderQueued,
		Priority:         priority,
		Payload:          map[string]any{"message": "hi"},
		RequestedByKind:  model.ActorUser,
		RequestedByID:    "tester",
		CreatedAt:        createdAt,
		LastTransitionAt: createdAt,
	}
}

func testItem(orderID string, createdAt time.Time) *model.Item {
	return &model.Item{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Type:        "echo",
		State:       model.ItemQueued,
		MaxAttempts: 3,
		Input:       map[string]any{"message": "hi"},
		CreatedAt:   createdAt,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	order := testOrder(5, now)
	order.Meta = map[string]any{"tenant": "acme"}
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))

	got, err := s.GetOrder(ctx, s.DB, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, model.OrderQueued, got.State)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, "hi", got.Payload["message"])
	assert.Equal(t, "acme", got.Meta["tenant"])
	assert.Equal(t, now.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.True(t, got.AppliedAt.IsZero())

	_, err = s.GetOrder(ctx, s.DB, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))

	item := testItem(order.ID, now)
	item.PartsRequired = []string{"a", "b"}
	require.NoError(t, s.InsertItem(ctx, s.DB, item))

	got, err := s.GetItem(ctx, s.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemQueued, got.State)
	assert.Equal(t, []string{"a", "b"}, got.PartsRequired)
	assert.Empty(t, got.LeasedByAgentID)
	assert.True(t, got.LeaseExpiresAt.IsZero())

	got.Result = map[string]any{"ok": true}
	got.PartsState = model.PartsState{"a": {Status: model.PartValidated}}
	require.NoError(t, s.UpdateItemResult(ctx, s.DB, got))

	again, err := s.GetItem(ctx, s.DB, item.ID)
	require.NoError(t, err)
	assert.Equal(t, true, again.Result["ok"])
	assert.Equal(t, model.PartValidated, again.PartsState["a"].Status)
}

func TestNextAvailableOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond).UTC()

	// Lower priority but older; higher priority must still win.
	older := testOrder(1, base.Add(-time.Hour))
	higher := testOrder(9, base)
	require.NoError(t, s.InsertOrder(ctx, s.DB, older))
	require.NoError(t, s.InsertOrder(ctx, s.DB, higher))

	olderItem := testItem(older.ID, base.Add(-time.Hour))
	higherItem := testItem(higher.ID, base)
	require.NoError(t, s.InsertItem(ctx, s.DB, olderItem))
	require.NoError(t, s.InsertItem(ctx, s.DB, higherItem))

	id, err := s.NextAvailable(ctx, s.DB, AvailableFilter{}, base)
	require.NoError(t, err)
	assert.Equal(t, higherItem.ID, id)

	// Equal priority falls back to order FIFO.
	peer := testOrder(9, base.Add(-30*time.Minute))
	require.NoError(t, s.InsertOrder(ctx, s.DB, peer))
	peerItem := testItem(peer.ID, base.Add(-30*time.Minute))
	require.NoError(t, s.InsertItem(ctx, s.DB, peerItem))

	id, err = s.NextAvailable(ctx, s.DB, AvailableFilter{}, base)
	require.NoError(t, err)
	assert.Equal(t, peerItem.ID, id)
}

func TestNextAvailableSkipsLiveLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))
	item := testItem(order.ID, now)
	require.NoError(t, s.InsertItem(ctx, s.DB, item))

	item.LeasedByAgentID = "agent-1"
	item.LeaseExpiresAt = now.Add(10 * time.Minute)
	require.NoError(t, s.UpdateItemLease(ctx, s.DB, item))

	_, err := s.NextAvailable(ctx, s.DB, AvailableFilter{}, now)
	assert.ErrorIs(t, err, model.ErrNoItemsAvailable)

	// Expired lease makes the item dispatchable again.
	_, err = s.NextAvailable(ctx, s.DB, AvailableFilter{}, now.Add(11*time.Minute))
	assert.NoError(t, err)
}

func TestNextAvailableFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	order := testOrder(3, now)
	order.Meta = map[string]any{"tenant_id": "acme"}
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))
	item := testItem(order.ID, now)
	require.NoError(t, s.InsertItem(ctx, s.DB, item))

	_, err := s.NextAvailable(ctx, s.DB, AvailableFilter{ItemType: "other"}, now)
	assert.ErrorIs(t, err, model.ErrNoItemsAvailable)

	_, err = s.NextAvailable(ctx, s.DB, AvailableFilter{TenantID: "globex"}, now)
	assert.ErrorIs(t, err, model.ErrNoItemsAvailable)

	min := 5
	_, err = s.NextAvailable(ctx, s.DB, AvailableFilter{MinPriority: &min}, now)
	assert.ErrorIs(t, err, model.ErrNoItemsAvailable)

	id, err := s.NextAvailable(ctx, s.DB, AvailableFilter{
		OrderID: order.ID, ItemType: "echo", TenantID: "acme",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, item.ID, id)
}

func TestLatestPartsRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))
	item := testItem(order.ID, now)
	require.NoError(t, s.InsertItem(ctx, s.DB, item))

	seq := func(n int) *int { return &n }
	insert := func(key string, sq *int) *model.Part {
		p := &model.Part{
			ItemID: item.ID, PartKey: key, Seq: sq, Status: model.PartValidated,
			Payload: map[string]any{"v": key}, Checksum: "c", AgentID: "a", CreatedAt: now,
		}
		require.NoError(t, s.InsertPart(ctx, s.DB, p))
		return p
	}

	insert("chunk", seq(1))
	highest := insert("chunk", seq(3))
	insert("chunk", seq(2))
	noSeqFirst := insert("free", nil)
	noSeqSecond := insert("free", nil)
	_ = noSeqFirst

	latest, err := s.LatestParts(ctx, s.DB, item.ID, "")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, highest.ID, latest["chunk"].ID, "greatest seq wins")
	assert.Equal(t, noSeqSecond.ID, latest["free"].ID, "NULL seq ties break by greatest id")

	// A NULL seq never outranks an explicit seq.
	insert("chunk", nil)
	latest, err = s.LatestParts(ctx, s.DB, item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, highest.ID, latest["chunk"].ID)

	// A rejected resubmission is out of the running when filtering by status.
	five := 5
	rejected := &model.Part{
		ItemID: item.ID, PartKey: "chunk", Seq: &five, Status: model.PartRejected,
		Payload: map[string]any{}, Checksum: "c", AgentID: "a", CreatedAt: now,
	}
	require.NoError(t, s.InsertPart(ctx, s.DB, rejected))
	latest, err = s.LatestParts(ctx, s.DB, item.ID, model.PartValidated)
	require.NoError(t, err)
	assert.Equal(t, highest.ID, latest["chunk"].ID)
}

func TestPartUniqueConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))
	item := testItem(order.ID, now)
	require.NoError(t, s.InsertItem(ctx, s.DB, item))

	one := 1
	p := &model.Part{
		ItemID: item.ID, PartKey: "chunk", Seq: &one, Status: model.PartValidated,
		Payload: map[string]any{}, Checksum: "c", AgentID: "a", CreatedAt: now,
	}
	require.NoError(t, s.InsertPart(ctx, s.DB, p))

	dup := *p
	assert.Error(t, s.InsertPart(ctx, s.DB, &dup), "same (item, key, seq) must collide")

	// NULL seq rows never collide with each other.
	free := &model.Part{
		ItemID: item.ID, PartKey: "chunk", Status: model.PartValidated,
		Payload: map[string]any{}, Checksum: "c", AgentID: "a", CreatedAt: now,
	}
	require.NoError(t, s.InsertPart(ctx, s.DB, free))
	free2 := &model.Part{
		ItemID: item.ID, PartKey: "chunk", Status: model.PartValidated,
		Payload: map[string]any{}, Checksum: "c", AgentID: "a", CreatedAt: now,
	}
	assert.NoError(t, s.InsertPart(ctx, s.DB, free2))
}

func TestEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))

	for _, kind := range []string{"proposed", "planned", "checked_out"} {
		require.NoError(t, s.InsertEvent(ctx, s.DB, &model.Event{
			OrderID: order.ID, Kind: kind,
			ActorKind: model.ActorSystem, ActorID: "scheduler", CreatedAt: now,
		}))
	}

	events, err := s.ListEvents(ctx, s.DB, EventFilter{OrderID: order.ID})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "checked_out", events[0].Kind)
	assert.Equal(t, "proposed", events[2].Kind)

	filtered, err := s.ListEvents(ctx, s.DB, EventFilter{OrderID: order.ID, Kind: "planned"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	limited, err := s.ListEvents(ctx, s.DB, EventFilter{OrderID: order.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestIdempotencySnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, ok, err := s.GetIdempotencySnapshot(ctx, s.DB, "propose", "hash-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutIdempotencySnapshot(ctx, s.DB, "propose", "hash-1", `{"id":"o1"}`, now))

	snap, ok, err := s.GetIdempotencySnapshot(ctx, s.DB, "propose", "hash-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"o1"}`, snap)

	// Same key in another scope is a distinct row.
	_, ok, err = s.GetIdempotencySnapshot(ctx, s.DB, "submit:item:x", "hash-1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.PutIdempotencySnapshot(ctx, s.DB, "propose", "hash-1", `{"id":"o2"}`, now)
	assert.ErrorContains(t, err, "UNIQUE constraint failed")
}

func TestGlobalGauges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	queued, live, err := s.GlobalGauges(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Zero(t, live)

	order := testOrder(0, now)
	require.NoError(t, s.InsertOrder(ctx, s.DB, order))
	a := testItem(order.ID, now)
	b := testItem(order.ID, now)
	require.NoError(t, s.InsertItem(ctx, s.DB, a))
	require.NoError(t, s.InsertItem(ctx, s.DB, b))

	b.State = model.ItemLeased
	require.NoError(t, s.UpdateItemState(ctx, s.DB, b))
	b.LeasedByAgentID = "agent-1"
	b.LeaseExpiresAt = now.Add(time.Minute)
	require.NoError(t, s.UpdateItemLease(ctx, s.DB, b))

	queued, live, err = s.GlobalGauges(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, live)
}
