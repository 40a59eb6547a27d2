// Package db provides the SQLite-backed local store for tasksync.
//
// The store holds three kinds of state:
//   - the task/group/user cache, fully overwritten by whatever the server
//     returns after a successful sync (server-wins)
//   - the durable sync queue of pending local operations, drained in FIFO
//     batches by the sync engine
//   - small metadata (last-sync timestamp, day-boundary marker)
//
// The database runs embedded with WAL mode so the realtime channel and the
// sync engine can read concurrently with writes. Every write method runs in
// its own implicit or explicit transaction; there is no cross-row locking at
// this layer.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tasksync/tasksync/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Meta keys used by the sync orchestrator.
const (
	MetaLastSyncAt  = "last_sync_at"
	MetaDayBoundary = "day_boundary"
)

// DB wraps the SQLite connection with tasksync-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		task_type TEXT NOT NULL,
		recurrence_type TEXT,
		recurrence_interval INTEGER NOT NULL DEFAULT 0,
		interval_days INTEGER NOT NULL DEFAULT 0,
		reminder_time TEXT NOT NULL,
		group_id INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		completed INTEGER NOT NULL DEFAULT 0,
		assigned_user_ids TEXT,  -- JSON array
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_groups (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT
	);

	-- Durable FIFO queue of pending local operations
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id TEXT NOT NULL UNIQUE,
		operation TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER,
		payload TEXT,
		created_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		size_bytes INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertTask inserts or updates a task in the cache.
func (db *DB) UpsertTask(task *schema.Task) error {
	return db.UpsertTaskContext(context.Background(), task)
}

// UpsertTaskContext inserts or updates a task with context support.
func (db *DB) UpsertTaskContext(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return db.upsertTaskTx(ctx, db.conn, task)
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (db *DB) upsertTaskTx(ctx context.Context, ex execer, task *schema.Task) error {
	assigneesJSON, err := json.Marshal(task.AssignedUserIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal assigned user ids: %w", err)
	}

	query := `
	INSERT INTO tasks (
		id, title, description, task_type, recurrence_type,
		recurrence_interval, interval_days, reminder_time, group_id,
		active, completed, assigned_user_ids, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		task_type = excluded.task_type,
		recurrence_type = excluded.recurrence_type,
		recurrence_interval = excluded.recurrence_interval,
		interval_days = excluded.interval_days,
		reminder_time = excluded.reminder_time,
		group_id = excluded.group_id,
		active = excluded.active,
		completed = excluded.completed,
		assigned_user_ids = excluded.assigned_user_ids,
		updated_at = excluded.updated_at
	`

	_, err = ex.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		string(task.TaskType),
		string(task.RecurrenceType),
		task.RecurrenceInterval,
		task.IntervalDays,
		task.ReminderTime,
		task.GroupID,
		boolToInt(task.Active),
		boolToInt(task.Completed),
		string(assigneesJSON),
		task.CreatedAt.Format(time.RFC3339),
		task.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %d: %w", task.ID, err)
	}
	return nil
}

// DeleteTask removes a task from the cache.
// Returns nil if the task doesn't exist (idempotent).
func (db *DB) DeleteTask(id int64) error {
	return db.DeleteTaskContext(context.Background(), id)
}

// DeleteTaskContext removes a task with context support.
func (db *DB) DeleteTaskContext(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// GetTaskByID retrieves a single task by id.
// Returns sql.ErrNoRows if the task is not cached.
func (db *DB) GetTaskByID(ctx context.Context, id int64) (*schema.Task, error) {
	row := db.conn.QueryRowContext(ctx, taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns all cached tasks ordered by id.
func (db *DB) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, taskColumns+` FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ReplaceAllTasks atomically overwrites the whole task cache with the given
// authoritative set. Used after a successful queue drain and after
// hash-driven reconciliation; the server is the single source of truth at
// that point.
func (db *DB) ReplaceAllTasks(ctx context.Context, tasks []*schema.Task) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear task cache: %w", err)
	}
	for _, task := range tasks {
		if err := db.upsertTaskTx(ctx, tx, task); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task cache overwrite: %w", err)
	}
	return nil
}

// MergeTaskStatus merges only the status-relevant fields (completed, active,
// reminder_time, updated_at) of the pushed task into the cached row. If
// nothing is cached for that id, the pushed task is inserted wholesale.
func (db *DB) MergeTaskStatus(ctx context.Context, task *schema.Task) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET
			completed = ?,
			active = ?,
			reminder_time = ?,
			updated_at = ?
		WHERE id = ?`,
		boolToInt(task.Completed),
		boolToInt(task.Active),
		task.ReminderTime,
		task.UpdatedAt.Format(time.RFC3339),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to merge status of task %d: %w", task.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return db.UpsertTaskContext(ctx, task)
	}
	return nil
}

// SetTaskCompleted flips only the completed flag of a cached task.
// Used for status deltas that carry a bare id instead of a payload.
func (db *DB) SetTaskCompleted(ctx context.Context, id int64, completed bool) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ?`,
		boolToInt(completed), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to set completed flag of task %d: %w", id, err)
	}
	return nil
}

// NextLocalID allocates an id for a task that has not been created
// server-side yet. Local ids count down from -1, so offline creates never
// collide with each other or with server-assigned ids in the cache.
func (db *DB) NextLocalID(ctx context.Context) (int64, error) {
	var lowest sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT MIN(id) FROM tasks WHERE id < 0`).Scan(&lowest)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate local task id: %w", err)
	}
	if !lowest.Valid {
		return -1, nil
	}
	return lowest.Int64 - 1, nil
}

// TaskCount returns the number of cached tasks.
func (db *DB) TaskCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

const taskColumns = `SELECT id, title, description, task_type, recurrence_type,
	recurrence_interval, interval_days, reminder_time, group_id,
	active, completed, assigned_user_ids, created_at, updated_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*schema.Task, error) {
	var task schema.Task
	var description, recurrenceType, assigneesJSON sql.NullString
	var active, completed int
	var createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.Title,
		&description,
		&task.TaskType,
		&recurrenceType,
		&task.RecurrenceInterval,
		&task.IntervalDays,
		&task.ReminderTime,
		&task.GroupID,
		&active,
		&completed,
		&assigneesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Description = description.String
	task.RecurrenceType = schema.RecurrenceType(recurrenceType.String)
	task.Active = active != 0
	task.Completed = completed != 0

	// A row with an unreadable timestamp is corrupt; a silently-zero
	// updated_at would lose every last-write-wins comparison.
	task.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at of task %d: %w", task.ID, err)
	}
	task.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at of task %d: %w", task.ID, err)
	}

	if assigneesJSON.Valid && assigneesJSON.String != "" && assigneesJSON.String != "null" {
		if err := json.Unmarshal([]byte(assigneesJSON.String), &task.AssignedUserIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned user ids: %w", err)
		}
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*schema.Task, error) {
	var tasks []*schema.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
