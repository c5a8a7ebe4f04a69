// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetIdempotencySnapshot returns the stored response for (scope, keyHash).
// ok is false when no row exists.
func (s *Store) GetIdempotencySnapshot(ctx context.Context, q dbtx, scope, keyHash string) (string, bool, error) {
	var snapshot string
	err := q.QueryRowContext(ctx, `
		SELECT response_json FROM work_idempotency_keys
		WHERE scope = ? AND key_hash = ?`, scope, keyHash).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return snapshot, true, nil
}

// PutIdempotencySnapshot persists the first writer's response for a key.
func (s *Store) PutIdempotencySnapshot(ctx context.Context, q dbtx, scope, keyHash, snapshot string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO work_idempotency_keys (scope, key_hash, response_json, created_at_ms)
		VALUES (?, ?, ?, ?)`, scope, keyHash, snapshot, now.UnixMilli())
	return err
}
