package db

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// =====================================================
// Mutation Queue Operations
// =====================================================

const entryColumns = `seq, id, action, target_table, entity_id, payload, enqueued_at, retries, last_error`

// Enqueue appends an entry. The store assigns Seq; EnqueuedAt defaults to now.
// Failures carry ErrQueueWrite so callers can surface them.
func (r *Repository) Enqueue(entry *models.PendingSyncEntry) error {
	if !entry.Action.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid action %q", entry.Action))
	}
	if _, err := tableName(entry.Table); err != nil {
		return err
	}
	if entry.EnqueuedAt == 0 {
		entry.EnqueuedAt = models.NowMillis()
	}

	res, err := r.db.Exec(`INSERT INTO sync_queue (id, action, target_table, entity_id, payload, enqueued_at, retries)
	VALUES (?, ?, ?, ?, ?, ?, ?)`, entry.ID, string(entry.Action), entry.Table.String(), entry.EntityID,
		payloadOrNil(entry.Payload), entry.EnqueuedAt, entry.Retries)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueWrite, "failed to enqueue mutation", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueWrite, "failed to read queue sequence", err)
	}
	entry.Seq = seq
	return nil
}

// ListPending returns every queued entry in sequence order.
func (r *Repository) ListPending() ([]*models.PendingSyncEntry, error) {
	rows, err := r.db.Query(`SELECT ` + entryColumns + ` FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, dbError("failed to list queue", err)
	}
	defer rows.Close()

	var entries []*models.PendingSyncEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, dbError("failed to scan queue entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, dbError("failed to list queue", rows.Err())
}

// NextPending returns the head of the queue, or nil when the queue is empty.
func (r *Repository) NextPending() (*models.PendingSyncEntry, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + entryColumns + ` FROM sync_queue ORDER BY seq LIMIT 1`)
	if err != nil {
		return nil, dbError("failed to prepare queue head query", err)
	}
	entry, err := scanEntry(stmt.QueryRow())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, dbError("failed to read queue head", err)
}

// RemoveFromQueue deletes an entry. Removing a missing entry is not an error.
func (r *Repository) RemoveFromQueue(id string) error {
	_, err := r.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return dbError("failed to remove queue entry", err)
}

// BumpRetry increments an entry's retry counter and returns the new value.
func (r *Repository) BumpRetry(id, lastErr string) (int, error) {
	var retries int
	err := r.db.QueryRow(`UPDATE sync_queue SET retries = retries + 1, last_error = ?
	WHERE id = ? RETURNING retries`, nullString(lastErr), id).Scan(&retries)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, notFound("queue entry", id)
	}
	return retries, dbError("failed to bump retry", err)
}

// HasPendingFor reports whether any entry targets the entity.
func (r *Repository) HasPendingFor(table models.Table, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM sync_queue WHERE target_table = ? AND entity_id = ?)`,
		table.String(), id).Scan(&exists)
	return exists, dbError("failed to check queue", err)
}

// CountPending returns the queue depth.
func (r *Repository) CountPending() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, dbError("failed to count queue", err)
}

// CompleteEntry removes a confirmed entry and applies its outcome to the
// entity in one transaction: a create records remoteID, a delete removes the
// tombstoned row and its failure log, an update marks the entity synced once nothing else is
// outstanding for it.
func (r *Repository) CompleteEntry(entry *models.PendingSyncEntry, remoteID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entry.ID); err != nil {
		return dbError("failed to remove queue entry", err)
	}

	switch entry.Action {
	case models.ActionCreate:
		err = confirmCreate(tx, entry.Table, entry.EntityID, remoteID)
	case models.ActionDelete:
		err = hardDelete(tx, entry.Table, entry.EntityID)
		if err == nil {
			// failures of a removed entity can neither be retried nor shown
			_, err = tx.Exec(`DELETE FROM sync_failures WHERE target_table = ? AND entity_id = ?`,
				entry.Table.String(), entry.EntityID)
			err = dbError("failed to clear failures", err)
		}
	default:
		_, err = markSynced(tx, entry.Table, entry.EntityID)
	}
	if err != nil {
		return err
	}

	return dbError("failed to commit queue entry", tx.Commit())
}

// PoisonEntry marks the owning entity error, then moves the entry from the
// queue to the failure log, atomically.
func (r *Repository) PoisonEntry(entry *models.PendingSyncEntry, reason string, permanent bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := setSyncStatus(tx, entry.Table, entry.EntityID, models.StatusError); err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO sync_failures
	(id, seq, action, target_table, entity_id, payload, enqueued_at, retries, reason, permanent, failed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Seq, string(entry.Action), entry.Table.String(), entry.EntityID,
		payloadOrNil(entry.Payload), entry.EnqueuedAt, entry.Retries, reason, permanent,
		models.NowMillis()); err != nil {
		return dbError("failed to record failure", err)
	}

	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entry.ID); err != nil {
		return dbError("failed to remove poisoned entry", err)
	}

	return dbError("failed to commit poison", tx.Commit())
}

// =====================================================
// Failure Log Operations
// =====================================================

const failureColumns = `seq, id, action, target_table, entity_id, payload, enqueued_at, retries,
	reason, permanent, failed_at`

// ListFailures returns poisoned entries, oldest first.
func (r *Repository) ListFailures() ([]*models.SyncFailure, error) {
	return r.queryFailures(`SELECT ` + failureColumns + ` FROM sync_failures ORDER BY seq`)
}

// FailuresFor returns the poisoned entries of one entity.
func (r *Repository) FailuresFor(table models.Table, id string) ([]*models.SyncFailure, error) {
	return r.queryFailures(`SELECT `+failureColumns+
		` FROM sync_failures WHERE target_table = ? AND entity_id = ? ORDER BY seq`, table.String(), id)
}

func (r *Repository) queryFailures(query string, args ...interface{}) ([]*models.SyncFailure, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, dbError("failed to list failures", err)
	}
	defer rows.Close()

	var failures []*models.SyncFailure
	for rows.Next() {
		var f models.SyncFailure
		var action, table string
		var payload sql.NullString
		if err := rows.Scan(&f.Seq, &f.ID, &action, &table, &f.EntityID, &payload, &f.EnqueuedAt,
			&f.Retries, &f.Reason, &f.Permanent, &f.FailedAt); err != nil {
			return nil, dbError("failed to scan failure", err)
		}
		if err := fillEntry(&f.PendingSyncEntry, action, table, payload); err != nil {
			return nil, err
		}
		failures = append(failures, &f)
	}
	return failures, dbError("failed to list failures", rows.Err())
}

// CountFailures returns the number of poisoned entries.
func (r *Repository) CountFailures() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_failures`).Scan(&n)
	return n, dbError("failed to count failures", err)
}

// RequeueFailures moves an entity's poisoned entries back to the tail of the
// queue with fresh sequence numbers and zero retries, and marks it pending.
// The local row must still exist. It returns how many entries were requeued.
func (r *Repository) RequeueFailures(table models.Table, id string) (int, error) {
	name, err := tableName(table)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	// tombstoned rows count: a failed delete is retried against them
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM `+name+` WHERE id = ?)`, id).Scan(&exists); err != nil {
		return 0, dbError("failed to check entity", err)
	}
	if !exists {
		return 0, notFound(table.String(), id)
	}

	res, err := tx.Exec(`INSERT INTO sync_queue (id, action, target_table, entity_id, payload, enqueued_at, retries)
	SELECT id, action, target_table, entity_id, payload, ?, 0 FROM sync_failures
	WHERE target_table = ? AND entity_id = ? ORDER BY seq`, models.NowMillis(), table.String(), id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrQueueWrite, "failed to requeue failures", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("failed to read affected rows", err)
	}
	if n == 0 {
		return 0, notFound("failure for "+table.String(), id)
	}

	if _, err := tx.Exec(`DELETE FROM sync_failures WHERE target_table = ? AND entity_id = ?`,
		table.String(), id); err != nil {
		return 0, dbError("failed to clear failures", err)
	}
	if err := setSyncStatus(tx, table, id, models.StatusPending); err != nil {
		return 0, err
	}

	return int(n), dbError("failed to commit requeue", tx.Commit())
}

// DiscardFailures drops an entity's poisoned entries and reconciles the local row:
//   - a discarded create never reached the remote, so the row and anything
//     still queued for it are removed;
//   - a discarded delete restores the tombstoned row;
//   - otherwise the row keeps its local values and is marked synced
//     (pending if other entries are still queued or a photo awaits upload).
func (r *Repository) DiscardFailures(table models.Table, id string) (int, error) {
	name, err := tableName(table)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var total, creates, deletes int
	err = tx.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(action = 'create'), 0), COALESCE(SUM(action = 'delete'), 0)
	FROM sync_failures WHERE target_table = ? AND entity_id = ?`, table.String(), id).Scan(&total, &creates, &deletes)
	if err != nil {
		return 0, dbError("failed to inspect failures", err)
	}
	if total == 0 {
		return 0, notFound("failure for "+table.String(), id)
	}

	if _, err := tx.Exec(`DELETE FROM sync_failures WHERE target_table = ? AND entity_id = ?`,
		table.String(), id); err != nil {
		return 0, dbError("failed to discard failures", err)
	}

	switch {
	case creates > 0:
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE target_table = ? AND entity_id = ?`,
			table.String(), id); err != nil {
			return 0, dbError("failed to drop queued entries", err)
		}
		if _, err := tx.Exec(`DELETE FROM `+name+` WHERE id = ?`, id); err != nil {
			return 0, dbError("failed to remove unsynced row", err)
		}
	default:
		restore := ""
		if deletes > 0 {
			restore = "is_deleted = 0, "
		}
		outstanding := `EXISTS (SELECT 1 FROM sync_queue q WHERE q.target_table = ? AND q.entity_id = ?)`
		if table == models.TableItems {
			outstanding += ` OR image_blob IS NOT NULL`
		}
		t := table.String()
		if _, err := tx.Exec(`UPDATE `+name+` SET `+restore+`sync_status =
			CASE WHEN `+outstanding+` THEN 'pending' ELSE 'synced' END
		WHERE id = ?`, t, id, id); err != nil {
			return 0, dbError("failed to reset entity status", err)
		}
	}

	return total, dbError("failed to commit discard", tx.Commit())
}

func scanEntry(s scanner) (*models.PendingSyncEntry, error) {
	var entry models.PendingSyncEntry
	var action, table string
	var payload, lastErr sql.NullString
	if err := s.Scan(&entry.Seq, &entry.ID, &action, &table, &entry.EntityID, &payload,
		&entry.EnqueuedAt, &entry.Retries, &lastErr); err != nil {
		return nil, err
	}
	entry.LastError = lastErr.String
	if err := fillEntry(&entry, action, table, payload); err != nil {
		return nil, err
	}
	return &entry, nil
}

func fillEntry(entry *models.PendingSyncEntry, action, table string, payload sql.NullString) error {
	t, err := models.ParseTable(table)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "corrupt queue entry "+entry.ID, err)
	}
	entry.Table = t
	entry.Action = models.Action(action)
	if payload.Valid && payload.String != "" {
		entry.Payload = json.RawMessage(payload.String)
	}
	return nil
}

func payloadOrNil(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
