package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/formpilot/formpilot/internal/domain"
)

const insertActivity = `
	INSERT INTO activity_logs (id, action, user_key, file_name, sheet_name, status, duration_ms, details, created_at)
	VALUES (:id, :action, :user_key, :file_name, :sheet_name, :status, :duration_ms, :details, :created_at)
	ON CONFLICT (id) DO NOTHING`

// ActivityRepository stores activity log entries
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// InsertBatch writes entries in one transaction. Entries already stored are skipped.
func (r *ActivityRepository) InsertBatch(ctx context.Context, entries []domain.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, insertActivity)
		if err != nil {
			return fmt.Errorf("preparing activity insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e); err != nil {
				return fmt.Errorf("inserting activity %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// ListOptions filters activity queries
type ListOptions struct {
	UserKey string
	Action  string
	Limit   int
	Offset  int
}

// List returns entries newest first
func (r *ActivityRepository) List(ctx context.Context, opts ListOptions) ([]domain.ActivityEntry, error) {
	query := `SELECT id, action, user_key, file_name, sheet_name, status, duration_ms, details, created_at
		FROM activity_logs WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if opts.UserKey != "" {
		query += fmt.Sprintf(" AND user_key = $%d", argNum)
		args = append(args, opts.UserKey)
		argNum++
	}

	if opts.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, opts.Action)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, opts.Limit)
	argNum++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, opts.Offset)
	}

	entries := []domain.ActivityEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}
