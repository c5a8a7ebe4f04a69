// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

// EventKind names a journal record. State transitions default to the target
// state's name; the kinds below cover creation and non-transition records.
type EventKind string

const (
	EvProposed      EventKind = "proposed"
	EvPlanned       EventKind = "planned"
	EvHeartbeat     EventKind = "heartbeat"
	EvReleased      EventKind = "released"
	EvLeaseExpired  EventKind = "lease_expired"
	EvPartSubmitted EventKind = "part_submitted"
	EvPartValidated EventKind = "part_validated"
	EvPartRejected  EventKind = "part_rejected"
	EvFinalized     EventKind = "finalized"
	EvStale         EventKind = "stale_detected"
)
