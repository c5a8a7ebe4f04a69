// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

const orderColumns = `id, type, state, priority, payload_json, meta_json,
	requested_by_kind, requested_by_id, created_at_ms, last_transition_at_ms,
	applied_at_ms, completed_at_ms`

// InsertOrder persists a freshly proposed order.
func (s *Store) InsertOrder(ctx context.Context, q dbtx, o *model.Order) error {
	metaJSON, err := marshalJSON(o.Meta)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO work_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Type, o.State, o.Priority, mustJSON(o.Payload), metaJSON,
		o.RequestedByKind, o.RequestedByID,
		o.CreatedAt.UnixMilli(), o.LastTransitionAt.UnixMilli(),
		timeToMS(o.AppliedAt), timeToMS(o.CompletedAt),
	)
	return err
}

// GetOrder loads one order by id. Returns model.ErrNotFound if absent.
func (s *Store) GetOrder(ctx context.Context, q dbtx, id string) (*model.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM work_orders WHERE id = ?`, id)
	return scanOrder(row)
}

// UpdateOrderState writes the state and lifecycle timestamps set by the
// lifecycle machine. Only the machine calls this.
func (s *Store) UpdateOrderState(ctx context.Context, q dbtx, o *model.Order) error {
	_, err := q.ExecContext(ctx, `
		UPDATE work_orders
		SET state = ?, last_transition_at_ms = ?, applied_at_ms = ?, completed_at_ms = ?
		WHERE id = ?`,
		o.State, o.LastTransitionAt.UnixMilli(),
		timeToMS(o.AppliedAt), timeToMS(o.CompletedAt), o.ID,
	)
	return err
}

// DeleteOrder removes an order; items, parts, events and provenance cascade.
// The core never calls this; it exists for external pruning and tests.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id)
	return err
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (*model.Order, error) {
	var o model.Order
	var metaJSON sql.NullString
	var payloadJSON string
	var createdAt, transitionAt int64
	var appliedAt, completedAt sql.NullInt64

	err := scanner.Scan(
		&o.ID, &o.Type, &o.State, &o.Priority, &payloadJSON, &metaJSON,
		&o.RequestedByKind, &o.RequestedByID, &createdAt, &transitionAt,
		&appliedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	o.Payload, err = unmarshalJSON[map[string]any](sql.NullString{String: payloadJSON, Valid: true})
	if err != nil {
		return nil, err
	}
	o.Meta, err = unmarshalJSON[map[string]any](metaJSON)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = msToTime(sql.NullInt64{Int64: createdAt, Valid: true})
	o.LastTransitionAt = msToTime(sql.NullInt64{Int64: transitionAt, Valid: true})
	o.AppliedAt = msToTime(appliedAt)
	o.CompletedAt = msToTime(completedAt)
	return &o, nil
}
