package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// ReplaceAllGroups atomically overwrites the group cache.
func (db *DB) ReplaceAllGroups(ctx context.Context, groups []*schema.Group) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_groups`); err != nil {
		return fmt.Errorf("failed to clear group cache: %w", err)
	}
	for _, g := range groups {
		var createdAt interface{}
		if !g.CreatedAt.IsZero() {
			createdAt = g.CreatedAt.Format(time.RFC3339)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_groups (id, name, created_at) VALUES (?, ?, ?)`,
			g.ID, g.Name, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert group %d: %w", g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group cache overwrite: %w", err)
	}
	return nil
}

// ListGroups returns all cached groups ordered by id.
func (db *DB) ListGroups(ctx context.Context) ([]*schema.Group, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, created_at FROM task_groups ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*schema.Group
	for rows.Next() {
		var g schema.Group
		var createdAt sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if createdAt.Valid {
			if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
				g.CreatedAt = t
			}
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// ReplaceAllUsers atomically overwrites the user cache.
func (db *DB) ReplaceAllUsers(ctx context.Context, users []*schema.User) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear user cache: %w", err)
	}
	for _, u := range users {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, email) VALUES (?, ?, ?)`,
			u.ID, u.Name, u.Email)
		if err != nil {
			return fmt.Errorf("failed to insert user %d: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user cache overwrite: %w", err)
	}
	return nil
}

// ListUsers returns all cached users ordered by id.
func (db *DB) ListUsers(ctx context.Context) ([]*schema.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, email FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*schema.User
	for rows.Next() {
		var u schema.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &email); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UpsertGroup inserts or updates a single group.
func (db *DB) UpsertGroup(ctx context.Context, g *schema.Group) error {
	var createdAt interface{}
	if !g.CreatedAt.IsZero() {
		createdAt = g.CreatedAt.Format(time.RFC3339)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO task_groups (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		g.ID, g.Name, createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert group %d: %w", g.ID, err)
	}
	return nil
}

// DeleteGroup removes a group. Idempotent.
func (db *DB) DeleteGroup(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM task_groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group %d: %w", id, err)
	}
	return nil
}

// UpsertUser inserts or updates a single user.
func (db *DB) UpsertUser(ctx context.Context, u *schema.User) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, email) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", u.ID, err)
	}
	return nil
}

// DeleteUser removes a user. Idempotent.
func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return nil
}
