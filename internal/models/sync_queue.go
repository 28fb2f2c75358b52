package models

import "encoding/json"

// PendingSyncEntry is one outstanding intent in the mutation queue.
// Seq is assigned by the store on enqueue and is the only ordering key.
type PendingSyncEntry struct {
	Seq        int64           `db:"seq" json:"seq"`
	ID         string          `db:"id" json:"id"`
	Action     Action          `db:"action" json:"action"`
	Table      Table           `db:"target_table" json:"table"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	Retries    int             `db:"retries" json:"retries"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingSyncEntry.
func (PendingSyncEntry) TableName() string {
	return "sync_queue"
}

// SyncFailure is a poisoned entry kept for the user to retry or discard.
type SyncFailure struct {
	PendingSyncEntry
	Reason    string `db:"reason" json:"reason"`
	Permanent bool   `db:"permanent" json:"permanent"`
	FailedAt  int64  `db:"failed_at" json:"failed_at"`
}

// TableName returns the table name for SyncFailure.
func (SyncFailure) TableName() string {
	return "sync_failures"
}
