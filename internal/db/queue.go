package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// Enqueue appends a pending operation to the durable sync queue.
//
// The item is assigned its monotonic queue id, a stable op_id (the
// idempotency key the server deduplicates on), and its payload size. This
// runs synchronously alongside the optimistic local write.
func (db *DB) Enqueue(ctx context.Context, item *schema.SyncQueueItem) error {
	if item.OpID == "" {
		opID, err := newOpID()
		if err != nil {
			return fmt.Errorf("failed to generate op id: %w", err)
		}
		item.OpID = opID
	}
	if item.Status == "" {
		item.Status = schema.QueuePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.SizeBytes = len(item.Payload)

	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	var payload interface{}
	if len(item.Payload) > 0 {
		payload = string(item.Payload)
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (
			op_id, operation, entity_type, entity_id, payload,
			created_at, retry_count, status, size_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.OpID,
		string(item.Operation),
		string(item.EntityType),
		item.EntityID,
		payload,
		item.CreatedAt.Format(time.RFC3339),
		item.RetryCount,
		string(item.Status),
		item.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s operation: %w", item.Operation, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue id: %w", err)
	}
	item.ID = id
	return nil
}

// PendingQueueItems reads up to limit retriable operations in creation
// order. Previously failed items are included so they are retried on the
// next pass.
func (db *DB) PendingQueueItems(ctx context.Context, limit int) ([]*schema.SyncQueueItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, op_id, operation, entity_type, entity_id, payload,
		       created_at, retry_count, status, size_bytes
		FROM sync_queue
		WHERE status IN (?, ?)
		ORDER BY id ASC
		LIMIT ?`,
		string(schema.QueuePending), string(schema.QueueFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.SyncQueueItem
	for rows.Next() {
		var item schema.SyncQueueItem
		var entityID sql.NullInt64
		var payload sql.NullString
		var createdAt string

		err := rows.Scan(
			&item.ID,
			&item.OpID,
			&item.Operation,
			&item.EntityType,
			&entityID,
			&payload,
			&createdAt,
			&item.RetryCount,
			&item.Status,
			&item.SizeBytes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		if entityID.Valid {
			id := entityID.Int64
			item.EntityID = &id
		}
		if payload.Valid && payload.String != "" {
			item.Payload = json.RawMessage(payload.String)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			item.CreatedAt = t
		}

		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return items, nil
}

// QueueSize returns the number of retriable operations in the queue.
func (db *DB) QueueSize(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?)`,
		string(schema.QueuePending), string(schema.QueueFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return count, nil
}

// ClearQueueItems deletes the given items in a single transaction.
// Called only after the server has accepted the entire drained set.
func (db *DB) ClearQueueItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `DELETE FROM sync_queue WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := tx.ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("failed to clear queue items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue clear: %w", err)
	}
	return nil
}

// MarkQueueItemsFailed bumps retry counts and marks the given items failed
// after an aborted drain. The items themselves stay in the queue untouched
// otherwise, so the same operations are retried on the next pass.
func (db *DB) MarkQueueItemsFailed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE sync_queue SET status = ?, retry_count = retry_count + 1
		WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{string(schema.QueueFailed)}, int64Args(ids)...)
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark queue items failed: %w", err)
	}
	return nil
}

// GetMeta reads a metadata value. Returns "" when the key is unset.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a metadata value.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

// SetLastSyncAt records the completion time of the last successful sync.
func (db *DB) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return db.SetMeta(ctx, MetaLastSyncAt, t.UTC().Format(time.RFC3339))
}

// LastSyncAt returns the last successful sync time, zero when never synced.
func (db *DB) LastSyncAt(ctx context.Context) (time.Time, error) {
	value, err := db.GetMeta(ctx, MetaLastSyncAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time %q: %w", value, err)
	}
	return t, nil
}

func newOpID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
