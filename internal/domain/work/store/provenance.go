// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// InsertProvenance records who triggered a mutation.
func (s *Store) InsertProvenance(ctx context.Context, q dbtx, p *model.Provenance) error {
	extraJSON, err := marshalJSON(p.Extra)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO work_provenances
			(order_id, item_id, agent_id, agent_name, agent_version,
			 request_fingerprint, idempotency_key_hash, extra_json, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(p.OrderID), nullStr(p.ItemID), p.AgentID,
		nullStr(p.AgentName), nullStr(p.AgentVersion),
		nullStr(p.RequestFingerprint), nullStr(p.IdempotencyKeyHash),
		extraJSON, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// CountProvenances counts audit records for an order; used in cascade tests.
func (s *Store) CountProvenances(ctx context.Context, orderID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_provenances WHERE order_id = ?`, orderID).Scan(&n)
	return n, err
}
