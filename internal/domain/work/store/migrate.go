// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import "fmt"

const schemaVersion = 1

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		payload_json TEXT NOT NULL,
		meta_json TEXT,
		requested_by_kind TEXT NOT NULL,
		requested_by_id TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		last_transition_at_ms INTEGER NOT NULL,
		applied_at_ms INTEGER,
		completed_at_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_work_orders_state_type ON work_orders(state, type);
	CREATE INDEX IF NOT EXISTS idx_work_orders_dispatch ON work_orders(priority DESC, created_at_ms ASC);

	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		input_json TEXT NOT NULL,
		result_json TEXT,
		assembled_result_json TEXT,
		parts_required_json TEXT,
		parts_state_json TEXT,
		error_json TEXT,
		leased_by_agent_id TEXT,
		lease_expires_at_ms INTEGER,
		last_heartbeat_at_ms INTEGER,
		accepted_at_ms INTEGER,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_items_order_state ON work_items(order_id, state);
	CREATE INDEX IF NOT EXISTS idx_work_items_state_lease ON work_items(state, lease_expires_at_ms);

	CREATE TABLE IF NOT EXISTS work_item_parts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_item_id TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		part_key TEXT NOT NULL,
		seq INTEGER,
		status TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		evidence_json TEXT,
		notes TEXT,
		errors_json TEXT,
		checksum TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_work_item_parts_key_seq ON work_item_parts(work_item_id, part_key, seq);

	CREATE TABLE IF NOT EXISTS work_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
		item_id TEXT REFERENCES work_items(id) ON DELETE CASCADE,
		event TEXT NOT NULL,
		actor_kind TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		payload_json TEXT,
		diff_json TEXT,
		message TEXT,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_events_order ON work_events(order_id, event);
	CREATE INDEX IF NOT EXISTS idx_work_events_item ON work_events(item_id, event);
	CREATE INDEX IF NOT EXISTS idx_work_events_kind_time ON work_events(event, created_at_ms);

	CREATE TABLE IF NOT EXISTS work_provenances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT REFERENCES work_orders(id) ON DELETE CASCADE,
		item_id TEXT REFERENCES work_items(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL,
		agent_name TEXT,
		agent_version TEXT,
		request_fingerprint TEXT,
		idempotency_key_hash TEXT,
		extra_json TEXT,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_provenances_order ON work_provenances(order_id);

	CREATE TABLE IF NOT EXISTS work_idempotency_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		response_json TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		UNIQUE(scope, key_hash)
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
