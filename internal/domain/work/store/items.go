// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

const itemColumns = `id, order_id, type, state, attempts, max_attempts,
	input_json, result_json, assembled_result_json, parts_required_json,
	parts_state_json, error_json, leased_by_agent_id, lease_expires_at_ms,
	last_heartbeat_at_ms, accepted_at_ms, created_at_ms`

// InsertItem persists one planned item.
func (s *Store) InsertItem(ctx context.Context, q dbtx, it *model.Item) error {
	partsReq, err := marshalJSON(it.PartsRequired)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO work_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.OrderID, it.Type, it.State, it.Attempts, it.MaxAttempts,
		mustJSON(it.Input), nil, nil, partsReq, nil, nil,
		nullStr(it.LeasedByAgentID), timeToMS(it.LeaseExpiresAt),
		timeToMS(it.LastHeartbeatAt), timeToMS(it.AcceptedAt),
		it.CreatedAt.UnixMilli(),
	)
	return err
}

// GetItem loads one item by id. Returns model.ErrNotFound if absent.
func (s *Store) GetItem(ctx context.Context, q dbtx, id string) (*model.Item, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	return scanItem(row)
}

// ListItemsByOrder returns all items of an order, oldest first.
func (s *Store) ListItemsByOrder(ctx context.Context, q dbtx, orderID string) ([]*model.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE order_id = ? ORDER BY created_at_ms ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}

// CountItems counts an order's items.
func (s *Store) CountItems(ctx context.Context, q dbtx, orderID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE order_id = ?`, orderID).Scan(&n)
	return n, err
}

// UpdateItemState writes the state column plus the timestamps and error the
// lifecycle machine set. Lease columns are cleared when the state is terminal
// so the "terminal implies no lease" invariant holds in one statement.
func (s *Store) UpdateItemState(ctx context.Context, q dbtx, it *model.Item) error {
	errJSON, err := marshalJSON(it.Error)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE work_items
		SET state = ?, attempts = ?, error_json = ?, accepted_at_ms = ?,
		    leased_by_agent_id = ?, lease_expires_at_ms = ?, last_heartbeat_at_ms = ?
		WHERE id = ?`,
		it.State, it.Attempts, errJSON, timeToMS(it.AcceptedAt),
		nullStr(it.LeasedByAgentID), timeToMS(it.LeaseExpiresAt), timeToMS(it.LastHeartbeatAt),
		it.ID,
	)
	return err
}

// UpdateItemLease writes only the lease columns.
func (s *Store) UpdateItemLease(ctx context.Context, q dbtx, it *model.Item) error {
	_, err := q.ExecContext(ctx, `
		UPDATE work_items
		SET leased_by_agent_id = ?, lease_expires_at_ms = ?, last_heartbeat_at_ms = ?
		WHERE id = ?`,
		nullStr(it.LeasedByAgentID), timeToMS(it.LeaseExpiresAt), timeToMS(it.LastHeartbeatAt),
		it.ID,
	)
	return err
}

// UpdateItemResult writes the executor-owned result columns.
func (s *Store) UpdateItemResult(ctx context.Context, q dbtx, it *model.Item) error {
	resultJSON, err := marshalJSON(it.Result)
	if err != nil {
		return err
	}
	assembledJSON, err := marshalJSON(it.AssembledResult)
	if err != nil {
		return err
	}
	partsStateJSON, err := marshalJSON(it.PartsState)
	if err != nil {
		return err
	}
	errJSON, err := marshalJSON(it.Error)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE work_items
		SET result_json = ?, assembled_result_json = ?, parts_state_json = ?, error_json = ?
		WHERE id = ?`,
		resultJSON, assembledJSON, partsStateJSON, errJSON, it.ID,
	)
	return err
}

// AvailableFilter narrows the next-available selection.
type AvailableFilter struct {
	OrderID     string
	ItemType    string
	TenantID    string // pass-through meta marker, not enforced tenancy
	MinPriority *int
}

// NextAvailable returns the id of the next dispatchable item under the
// priority DESC, order age ASC, item age ASC policy, or ErrNoItemsAvailable.
// Candidates can be stale by the time the caller locks them; acquire must
// re-verify.
func (s *Store) NextAvailable(ctx context.Context, q dbtx, f AvailableFilter, now time.Time) (string, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT i.id
		FROM work_items i
		JOIN work_orders o ON o.id = i.order_id
		WHERE i.state = ?
		  AND (i.lease_expires_at_ms IS NULL OR i.lease_expires_at_ms <= ?)
		  AND o.state IN (?, ?, ?)`)
	args := []any{model.ItemQueued, now.UnixMilli(),
		model.OrderQueued, model.OrderCheckedOut, model.OrderInProgress}

	if f.OrderID != "" {
		sb.WriteString(" AND i.order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.ItemType != "" {
		sb.WriteString(" AND i.type = ?")
		args = append(args, f.ItemType)
	}
	if f.TenantID != "" {
		sb.WriteString(" AND json_extract(o.meta_json, '$.tenant_id') = ?")
		args = append(args, f.TenantID)
	}
	if f.MinPriority != nil {
		sb.WriteString(" AND o.priority >= ?")
		args = append(args, *f.MinPriority)
	}
	sb.WriteString(`
		ORDER BY o.priority DESC, o.created_at_ms ASC, i.created_at_ms ASC
		LIMIT 1`)

	var id string
	err := q.QueryRowContext(ctx, sb.String(), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNoItemsAvailable
	}
	return id, err
}

// ExpiredLeaseIDs lists items whose lease passed while leased or in progress.
func (s *Store) ExpiredLeaseIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM work_items
		WHERE state IN (?, ?) AND lease_expires_at_ms IS NOT NULL AND lease_expires_at_ms < ?
		ORDER BY lease_expires_at_ms ASC`,
		model.ItemLeased, model.ItemInProgress, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

// ItemStateCounts returns a state histogram for an order's items.
func (s *Store) ItemStateCounts(ctx context.Context, q dbtx, orderID string) (map[model.ItemState]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM work_items WHERE order_id = ? GROUP BY state`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.ItemState]int)
	for rows.Next() {
		var st model.ItemState
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// GlobalGauges reports the fleet-wide queued-item and live-lease totals,
// feeding the exported gauges.
func (s *Store) GlobalGauges(ctx context.Context, now time.Time) (queued, liveLeases int, err error) {
	err = s.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN leased_by_agent_id IS NOT NULL AND lease_expires_at_ms > ? THEN 1 ELSE 0 END), 0)
		FROM work_items`,
		model.ItemQueued, now.UnixMilli(),
	).Scan(&queued, &liveLeases)
	return queued, liveLeases, err
}

// SubmittedItems returns the order's items currently in submitted state.
func (s *Store) SubmittedItems(ctx context.Context, q dbtx, orderID string) ([]*model.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE order_id = ? AND state = ?`, orderID, model.ItemSubmitted)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectItems(rows)
}

// FailedItemIDsOlderThan lists items stuck in failed since before the cutoff,
// judged by their last transition event.
func (s *Store) FailedItemIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT i.id FROM work_items i
		WHERE i.state = ?
		  AND EXISTS (
			SELECT 1 FROM work_events e
			WHERE e.item_id = i.id AND e.event = ? AND e.created_at_ms < ?
		  )`,
		model.ItemFailed, model.ItemFailed, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

// FailedOrderIDsOlderThan lists orders stuck in failed since before the cutoff.
func (s *Store) FailedOrderIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM work_orders
		WHERE state = ? AND last_transition_at_ms < ?`,
		model.OrderFailed, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

// StaleOrderIDs lists non-terminal orders created before the cutoff.
func (s *Store) StaleOrderIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM work_orders
		WHERE state NOT IN (?, ?) AND created_at_ms < ?
		ORDER BY created_at_ms ASC`,
		model.OrderCompleted, model.OrderDeadLettered, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*model.Item, error) {
	var it model.Item
	var inputJSON string
	var resultJSON, assembledJSON, partsReqJSON, partsStateJSON, errJSON sql.NullString
	var leasedBy sql.NullString
	var leaseExpires, lastHeartbeat, acceptedAt sql.NullInt64
	var createdAt int64

	err := scanner.Scan(
		&it.ID, &it.OrderID, &it.Type, &it.State, &it.Attempts, &it.MaxAttempts,
		&inputJSON, &resultJSON, &assembledJSON, &partsReqJSON, &partsStateJSON,
		&errJSON, &leasedBy, &leaseExpires, &lastHeartbeat, &acceptedAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	if it.Input, err = unmarshalJSON[map[string]any](sql.NullString{String: inputJSON, Valid: true}); err != nil {
		return nil, err
	}
	if it.Result, err = unmarshalJSON[map[string]any](resultJSON); err != nil {
		return nil, err
	}
	if it.AssembledResult, err = unmarshalJSON[map[string]any](assembledJSON); err != nil {
		return nil, err
	}
	if it.PartsRequired, err = unmarshalJSON[[]string](partsReqJSON); err != nil {
		return nil, err
	}
	if it.PartsState, err = unmarshalJSON[model.PartsState](partsStateJSON); err != nil {
		return nil, err
	}
	if it.Error, err = unmarshalJSON[*model.ErrorDetail](errJSON); err != nil {
		return nil, err
	}
	if leasedBy.Valid {
		it.LeasedByAgentID = leasedBy.String
	}
	it.LeaseExpiresAt = msToTime(leaseExpires)
	it.LastHeartbeatAt = msToTime(lastHeartbeat)
	it.AcceptedAt = msToTime(acceptedAt)
	it.CreatedAt = msToTime(sql.NullInt64{Int64: createdAt, Valid: true})
	return &it, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
