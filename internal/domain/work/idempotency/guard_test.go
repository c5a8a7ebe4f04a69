// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/clock"
	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/domain/work/store"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := lifecycle.New(st, clk, nil, nil)
	return &Guard{Machine: m, Required: DefaultRequired()}
}

func TestDoReplaysFirstResponse(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	fn := func(tx *lifecycle.Txn) (any, error) {
		calls++
		return map[string]any{"call": calls}, nil
	}

	first, err := g.Do(ctx, "submit", "submit:item:1", "key-a", fn)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.JSONEq(t, `{"call":1}`, string(first.Response))

	second, err := g.Do(ctx, "submit", "submit:item:1", "key-a", fn)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.JSONEq(t, `{"call":1}`, string(second.Response), "replay serves the stored snapshot")
	assert.Equal(t, 1, calls, "fn runs at most once per key")
}

func TestDoScopesKeysIndependently(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	fn := func(tx *lifecycle.Txn) (any, error) {
		calls++
		return calls, nil
	}

	_, err := g.Do(ctx, "submit", "submit:item:1", "shared-key", fn)
	require.NoError(t, err)
	out, err := g.Do(ctx, "submit", "submit:item:2", "shared-key", fn)
	require.NoError(t, err)
	assert.False(t, out.Replayed, "same key under another scope is a fresh operation")
	assert.Equal(t, 2, calls)
}

func TestDoRequiredOpNeedsKey(t *testing.T) {
	g := newTestGuard(t)

	_, err := g.Do(context.Background(), "approve", "approve:order:1", "", func(tx *lifecycle.Txn) (any, error) {
		t.Fatal("fn must not run without a key on a required op")
		return nil, nil
	})
	assert.ErrorIs(t, err, model.ErrIdempotencyKeyRequired)
}

func TestDoOptionalOpRunsUnguarded(t *testing.T) {
	g := newTestGuard(t)
	g.Required = map[string]bool{}
	ctx := context.Background()

	calls := 0
	fn := func(tx *lifecycle.Txn) (any, error) {
		calls++
		return "ok", nil
	}

	for i := 0; i < 2; i++ {
		out, err := g.Do(ctx, "heartbeat", "heartbeat:item:1", "", fn)
		require.NoError(t, err)
		assert.False(t, out.Replayed)
	}
	assert.Equal(t, 2, calls, "keyless optional calls never snapshot")
}

func TestDoFailurePersistsNoSnapshot(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := g.Do(ctx, "submit", "submit:item:1", "key-a", func(tx *lifecycle.Txn) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// The rollback freed the key, so a retry may succeed.
	out, err := g.Do(ctx, "submit", "submit:item:1", "key-a", func(tx *lifecycle.Txn) (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.JSONEq(t, `"recovered"`, string(out.Response))
}

func TestHashKeyStable(t *testing.T) {
	assert.Equal(t, HashKey("abc"), HashKey("abc"))
	assert.NotEqual(t, HashKey("abc"), HashKey("abd"))
	assert.Len(t, HashKey("abc"), 64)
}
