// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package idempotency makes mutating operations safe to retry. A guarded call
// executes at most once per (scope, key); later calls replay the first
// writer's response snapshot without comparing payloads.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ManuGH/foreman/internal/domain/work/lifecycle"
	"github.com/ManuGH/foreman/internal/domain/work/model"
	"github.com/ManuGH/foreman/internal/metrics"
)

// HashKey returns the SHA-256 hex digest of a caller-provided key string.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Guard wraps operations in the at-most-once contract.
type Guard struct {
	Machine  *lifecycle.Machine
	Required map[string]bool // operation names that must carry a key
}

// DefaultRequired is the built-in set of operations that demand a key.
func DefaultRequired() map[string]bool {
	return map[string]bool{
		"propose":     true,
		"submit":      true,
		"submit-part": true,
		"finalize":    true,
		"approve":     true,
		"reject":      true,
	}
}

// Result is the guarded operation's outcome.
type Result struct {
	Response json.RawMessage
	Replayed bool // true when served from a stored snapshot
}

// Do runs fn at most once for (scope, key). op is the operation name checked
// against the required set; an empty key on a required op fails with
// ErrIdempotencyKeyRequired, and an empty key on an optional op runs fn
// unguarded.
//
// fn executes inside the same transaction that persists the snapshot, so a
// failure rolls back both and a later retry with the same key may succeed.
// When two callers race on a fresh key, the loser's transaction aborts on the
// unique (scope, key_hash) index and the call is retried once to replay the
// winner's snapshot. First writer wins.
func (g *Guard) Do(ctx context.Context, op, scope, key string, fn func(tx *lifecycle.Txn) (any, error)) (Result, error) {
	if key == "" {
		if g.Required[op] {
			return Result{}, model.ErrIdempotencyKeyRequired
		}
		var out Result
		err := g.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
			v, err := fn(tx)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			out.Response = raw
			return nil
		})
		return out, err
	}

	keyHash := HashKey(key)
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		out, err := g.once(ctx, scope, keyHash, fn)
		if err == nil {
			if out.Replayed {
				metrics.IdempotentReplayTotal.WithLabelValues(op).Inc()
			}
			return out, nil
		}
		if !isUniqueViolation(err) {
			return Result{}, err
		}
		lastErr = err
	}
	return Result{}, lastErr
}

func (g *Guard) once(ctx context.Context, scope, keyHash string, fn func(tx *lifecycle.Txn) (any, error)) (Result, error) {
	var out Result
	err := g.Machine.Run(ctx, func(tx *lifecycle.Txn) error {
		snapshot, ok, err := g.Machine.Store.GetIdempotencySnapshot(ctx, tx.Tx(), scope, keyHash)
		if err != nil {
			return err
		}
		if ok {
			out = Result{Response: json.RawMessage(snapshot), Replayed: true}
			return nil
		}

		v, err := fn(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := g.Machine.Store.PutIdempotencySnapshot(ctx, tx.Tx(), scope, keyHash, string(raw), g.Machine.Clock.Now()); err != nil {
			return err
		}
		out = Result{Response: raw}
		return nil
	})
	return out, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
