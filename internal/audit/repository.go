// Package audit records every command the admin console relays to a device.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed width so created_at sorts chronologically as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// CommandRecord is one relay attempt.
type CommandRecord struct {
	ID         string    `json:"id"`
	DevicePath string    `json:"device_path"`
	Payload    []byte    `json:"payload"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which records List returns.
type Filter struct {
	DevicePath string // optional: exact device path
	Success    *bool  // optional: only successes or only failures
	Limit      int    // default 50, max 200
	Offset     int
}

// ListResult is one page of records, newest first.
type ListResult struct {
	Records []CommandRecord `json:"records"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Repository stores command records.
type Repository interface {
	Create(ctx context.Context, rec *CommandRecord) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores records in the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts rec, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = "cmd-" + uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device_path, payload, success, error, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DevicePath, payload, boolToInt(rec.Success), rec.Error, rec.Actor,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting: %w", ErrStore, err)
	}
	return nil
}

// List returns records matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if filter.DevicePath != "" {
		conditions = append(conditions, "device_path = ?")
		args = append(args, filter.DevicePath)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // conditions use placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: counting: %w", ErrStore, err)
	}

	query := "SELECT id, device_path, payload, success, error, actor, created_at FROM command_audit " + //nolint:gosec // conditions use placeholders
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying: %w", ErrStore, err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var (
			rec       CommandRecord
			success   int
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DevicePath, &rec.Payload, &success,
			&rec.Error, &rec.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning: %w", ErrStore, err)
		}
		rec.Success = success == 1
		rec.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing timestamp %q: %w", ErrStore, createdAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating: %w", ErrStore, err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
