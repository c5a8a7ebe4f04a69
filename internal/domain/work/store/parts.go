// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

const partColumns = `id, work_item_id, part_key, seq, status, payload_json,
	evidence_json, notes, errors_json, checksum, agent_id, created_at_ms`

// InsertPart persists one partial submission and fills in its generated id.
func (s *Store) InsertPart(ctx context.Context, q dbtx, p *model.Part) error {
	evidenceJSON, err := marshalJSON(p.Evidence)
	if err != nil {
		return err
	}
	errorsJSON, err := marshalJSON(p.Errors)
	if err != nil {
		return err
	}
	var seq sql.NullInt64
	if p.Seq != nil {
		seq = sql.NullInt64{Int64: int64(*p.Seq), Valid: true}
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO work_item_parts
			(work_item_id, part_key, seq, status, payload_json, evidence_json,
			 notes, errors_json, checksum, agent_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ItemID, p.PartKey, seq, p.Status, mustJSON(p.Payload), evidenceJSON,
		nullStr(p.Notes), errorsJSON, p.Checksum, p.AgentID, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// PartFilter narrows part listings.
type PartFilter struct {
	PartKey string
	Status  model.PartStatus
}

// ListParts returns an item's parts, oldest first.
func (s *Store) ListParts(ctx context.Context, q dbtx, itemID string, f PartFilter) ([]*model.Part, error) {
	query := `SELECT ` + partColumns + ` FROM work_item_parts WHERE work_item_id = ?`
	args := []any{itemID}
	if f.PartKey != "" {
		query += ` AND part_key = ?`
		args = append(args, f.PartKey)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectParts(rows)
}

// LatestParts returns one part per key: the greatest seq wins, NULL seq sorts
// last, ties broken by greatest id. A non-empty status restricts the
// candidates before the rule is applied.
func (s *Store) LatestParts(ctx context.Context, q dbtx, itemID string, status model.PartStatus) (map[string]*model.Part, error) {
	query := `SELECT ` + partColumns + ` FROM work_item_parts WHERE work_item_id = ?`
	args := []any{itemID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY part_key ASC,
	         CASE WHEN seq IS NULL THEN 1 ELSE 0 END ASC,
	         seq DESC, id DESC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	latest := make(map[string]*model.Part)
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := latest[p.PartKey]; !seen {
			latest[p.PartKey] = p
		}
	}
	return latest, rows.Err()
}

func collectParts(rows *sql.Rows) ([]*model.Part, error) {
	var parts []*model.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func scanPart(scanner interface{ Scan(dest ...any) error }) (*model.Part, error) {
	var p model.Part
	var seq sql.NullInt64
	var payloadJSON string
	var evidenceJSON, notes, errorsJSON sql.NullString
	var createdAt int64

	err := scanner.Scan(
		&p.ID, &p.ItemID, &p.PartKey, &seq, &p.Status, &payloadJSON,
		&evidenceJSON, &notes, &errorsJSON, &p.Checksum, &p.AgentID, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if seq.Valid {
		v := int(seq.Int64)
		p.Seq = &v
	}
	if p.Payload, err = unmarshalJSON[map[string]any](sql.NullString{String: payloadJSON, Valid: true}); err != nil {
		return nil, err
	}
	if p.Evidence, err = unmarshalJSON[map[string]any](evidenceJSON); err != nil {
		return nil, err
	}
	if p.Errors, err = unmarshalJSON[[]model.FieldError](errorsJSON); err != nil {
		return nil, err
	}
	if notes.Valid {
		p.Notes = notes.String
	}
	p.CreatedAt = msToTime(sql.NullInt64{Int64: createdAt, Valid: true})
	return &p, nil
}
