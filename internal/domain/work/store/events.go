// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

const eventColumns = `id, order_id, item_id, event, actor_kind, actor_id,
	payload_json, diff_json, message, created_at_ms`

// InsertEvent appends one journal record and fills in its generated id.
// Events are written in the same transaction as the state change they record.
func (s *Store) InsertEvent(ctx context.Context, q dbtx, e *model.Event) error {
	payloadJSON, err := marshalJSON(e.Payload)
	if err != nil {
		return err
	}
	diffJSON, err := marshalJSON(e.Diff)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO work_events
			(order_id, item_id, event, actor_kind, actor_id, payload_json, diff_json, message, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID, nullStr(e.ItemID), e.Kind, e.ActorKind, e.ActorID,
		payloadJSON, diffJSON, nullStr(e.Message), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// EventFilter narrows event listings.
type EventFilter struct {
	OrderID string
	ItemID  string
	Kind    string
	Limit   int
}

// ListEvents returns journal records newest first.
func (s *Store) ListEvents(ctx context.Context, q dbtx, f EventFilter) ([]*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM work_events WHERE 1=1`
	args := []any{}
	if f.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, f.OrderID)
	}
	if f.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, f.ItemID)
	}
	if f.Kind != "" {
		query += ` AND event = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*model.Event, error) {
	var e model.Event
	var itemID, payloadJSON, diffJSON, message sql.NullString
	var createdAt int64

	err := scanner.Scan(
		&e.ID, &e.OrderID, &itemID, &e.Kind, &e.ActorKind, &e.ActorID,
		&payloadJSON, &diffJSON, &message, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if itemID.Valid {
		e.ItemID = itemID.String
	}
	if e.Payload, err = unmarshalJSON[map[string]any](payloadJSON); err != nil {
		return nil, err
	}
	if e.Diff, err = unmarshalJSON[*model.Diff](diffJSON); err != nil {
		return nil, err
	}
	if message.Valid {
		e.Message = message.String
	}
	e.CreatedAt = msToTime(sql.NullInt64{Int64: createdAt, Valid: true})
	return &e, nil
}
