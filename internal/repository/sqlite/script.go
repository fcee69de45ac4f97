package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/script-playground/internal/apperror"
	"github.com/sakif/script-playground/internal/model"
	"github.com/sakif/script-playground/internal/repository"
)

// Compile-time check that *DB satisfies the interface.
var _ repository.ScriptRepository = (*DB)(nil)

// Create inserts a script, assigning its ID and timestamps in place.
func (db *DB) Create(ctx context.Context, script *model.Script) error {
	script.ID = xid.New().String()

	now := time.Now()
	script.CreatedAt = now
	script.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scripts (id, user_id, name, code, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		script.ID,
		nullableID(script.UserID),
		script.Name,
		script.Code,
		script.Description,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating script: %w", err)
	}

	return nil
}

// GetByID fetches one script; sql.ErrNoRows maps to apperror.ErrNotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Script, error) {
	var (
		s      model.Script
		userID sql.NullString
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, name, code, description, created_at, updated_at
		 FROM scripts
		 WHERE id = ?`,
		id,
	).Scan(
		&s.ID,
		&userID,
		&s.Name,
		&s.Code,
		&s.Description,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("script", id)
		}
		return nil, fmt.Errorf("sqlite: getting script %s: %w", id, err)
	}

	s.UserID = userID.String
	return &s, nil
}

// List returns scripts newest-first with LIMIT/OFFSET pagination.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Script, error) {
	limit, offset := clampListOptions(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, name, code, description, created_at, updated_at
		 FROM scripts
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scripts: %w", err)
	}
	defer rows.Close()

	return scanScripts(rows, limit)
}

// ListByUser returns one user's scripts newest-first.
func (db *DB) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Script, error) {
	limit, offset := clampListOptions(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, name, code, description, created_at, updated_at
		 FROM scripts
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scripts for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanScripts(rows, limit)
}

// Update rewrites the mutable fields. ID and created_at never change.
func (db *DB) Update(ctx context.Context, script *model.Script) error {
	script.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE scripts
		 SET name = ?, code = ?, description = ?, updated_at = ?
		 WHERE id = ?`,
		script.Name,
		script.Code,
		script.Description,
		script.UpdatedAt,
		script.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating script %s: %w", script.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("script", script.ID)
	}

	return nil
}

// Delete removes a script; zero rows affected means it never existed.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM scripts WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting script %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("script", id)
	}

	return nil
}

func clampListOptions(opts repository.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanScripts(rows *sql.Rows, capacity int) ([]model.Script, error) {
	scripts := make([]model.Script, 0, capacity)
	for rows.Next() {
		var (
			s      model.Script
			userID sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &userID, &s.Name, &s.Code, &s.Description,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning script row: %w", err)
		}
		s.UserID = userID.String
		scripts = append(scripts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating scripts: %w", err)
	}
	return scripts, nil
}

// nullableID stores anonymous ownership as NULL rather than empty string, so
// the foreign key to users is not violated.
func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
