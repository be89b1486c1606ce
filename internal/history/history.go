package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed-width so created_at sorts and compares as text.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// ErrNoHistory is returned by LastRun when no earlier run was recorded.
var ErrNoHistory = errors.New("no supervisor history")

// Entry is one persisted transition.
type Entry struct {
	ID int64 `json:"id"`
	supervisor.Transition
}

// Repository stores supervisor transitions in the supervisor_events table.
//
// Safe for concurrent use; serialisation is left to database/sql.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a transition repository.
//
// Parameters:
//   - db: Open database with the supervisor_events migration applied
//
// Returns:
//   - *Repository: Repository ready to record and query transitions
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Record inserts t. A zero t.At is stamped with the current time.
func (r *Repository) Record(ctx context.Context, t supervisor.Transition) error {
	if t.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	at := t.At
	if at.IsZero() {
		at = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO supervisor_events
		 (run_id, name, from_state, to_state, event, spawn, pid, exit_code,
		  error, signal, restart_count, uptime_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID,
		t.Name,
		string(t.From),
		string(t.To),
		string(t.Event),
		t.Spawn,
		t.PID,
		t.ExitCode,
		t.Err,
		t.Signal,
		t.RestartCount,
		t.UptimeSeconds,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting supervisor event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty runID spans all
// runs. limit defaults to 50 and is capped at 200.
func (r *Repository) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := selectColumns + ` ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if runID != "" {
		query = selectColumns + ` WHERE run_id = ? ORDER BY id DESC LIMIT ?`
		args = []any{runID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying supervisor events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating supervisor events: %w", err)
	}
	return entries, nil
}

// LastRun returns the final transition recorded by the most recent run other
// than excludeRunID, or ErrNoHistory.
func (r *Repository) LastRun(ctx context.Context, excludeRunID string) (Entry, error) {
	row := r.db.QueryRowContext(ctx,
		selectColumns+` WHERE run_id != ? ORDER BY id DESC LIMIT 1`,
		excludeRunID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNoHistory
	}
	return entry, err
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM supervisor_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting supervisor events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

const selectColumns = `SELECT id, run_id, name, from_state, to_state, event, spawn, pid,
	exit_code, error, signal, restart_count, uptime_seconds, created_at
	FROM supervisor_events`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                     Entry
		from, to, event, when string
	)
	err := s.Scan(&e.ID, &e.RunID, &e.Name, &from, &to, &event, &e.Spawn, &e.PID,
		&e.ExitCode, &e.Err, &e.Signal, &e.RestartCount, &e.UptimeSeconds, &when)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning supervisor event: %w", err)
	}

	e.From = supervisor.State(from)
	e.To = supervisor.State(to)
	e.Event = supervisor.EventKind(event)

	at, err := time.Parse(timeLayout, when)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.At = at
	return e, nil
}
