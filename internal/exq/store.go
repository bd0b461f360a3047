package exq

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"meridian/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; operators then clear or delete the queue database.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version does not match
// the version this build expects.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrEntryNotFound indicates the requested queue entry does not exist.
var ErrEntryNotFound = errors.New("queue entry not found")

// Store manages exposure queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database in the data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "exq.db"))
}

// OpenPath initializes or connects to the queue database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'meridian queue clear --all' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Enqueue inserts a new pending entry and returns it.
func (s *Store) Enqueue(ctx context.Context, spec ExposureSpec, priority int, requestedBy string, maxAttempts int) (*Entry, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validate exposure spec: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal exposure spec: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO queue_entries (
            spec_json, priority, requested_by, status, attempts, max_attempts,
            enqueued_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		string(specJSON),
		priority,
		requestedBy,
		StatusPending,
		maxAttempts,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

const entryColumns = `id, spec_json, priority, requested_by, status, attempts,
    max_attempts, last_error, enqueued_at, started_at, finished_at, updated_at`

// GetByID fetches a queue entry by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM queue_entries WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
	}
	return entry, err
}

// NextPending returns the dispatchable entry with the highest priority,
// ties broken by enqueue time then id. Returns nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+` FROM queue_entries
         WHERE status = ?
         ORDER BY priority DESC, enqueued_at ASC, id ASC
         LIMIT 1`, StatusPending)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// MarkRunning transitions a pending entry to running and counts the attempt.
func (s *Store) MarkRunning(ctx context.Context, id int64) (*Entry, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusRunning, timestamp, timestamp, id, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: id %d is not pending", ErrEntryNotFound, id)
	}
	return s.GetByID(ctx, id)
}

// MarkDone transitions a running entry to done.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StatusDone, "")
}

// MarkFailed records a failed attempt. Entries with attempts left go back
// to pending; exhausted entries become failed.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) (*Entry, error) {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.AttemptsLeft() {
		timestamp := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := s.db.ExecContext(ctx,
			`UPDATE queue_entries SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			StatusPending, reason, timestamp, id)
		if err != nil {
			return nil, fmt.Errorf("requeue failed entry: %w", err)
		}
	} else if err := s.finish(ctx, id, StatusFailed, reason); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Cancel transitions a pending or running entry to cancelled. The boolean
// reports whether anything changed.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, CancelledReason, timestamp, timestamp, id, StatusPending, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("cancel entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResetRunning requeues entries left running by an unclean shutdown.
// The interrupted attempt stays counted.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, last_error = ?, updated_at = ? WHERE status = ?`,
		StatusPending, ShutdownReason, timestamp, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("reset running entries: %w", err)
	}
	return res.RowsAffected()
}

// List returns entries in dispatch order, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses []Status) ([]*Entry, error) {
	query := "SELECT " + entryColumns + " FROM queue_entries"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY priority DESC, enqueued_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountByStatus returns entry counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(1) FROM queue_entries GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Clear removes terminal entries, or with all set every entry that is not
// currently running. It returns the number of removed entries.
func (s *Store) Clear(ctx context.Context, all bool) (int64, error) {
	var res sql.Result
	var err error
	if all {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM queue_entries WHERE status != ?", StatusRunning)
	} else {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM queue_entries WHERE status IN (?, ?, ?)",
			StatusDone, StatusFailed, StatusCancelled)
	}
	if err != nil {
		return 0, fmt.Errorf("clear queue entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) finish(ctx context.Context, id int64, status Status, reason string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
         WHERE id = ?`,
		status, nullableString(reason), timestamp, timestamp, id)
	if err != nil {
		return fmt.Errorf("finish entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry      Entry
		specJSON   string
		lastError  sql.NullString
		enqueuedAt string
		startedAt  sql.NullString
		finishedAt sql.NullString
		updatedAt  string
	)
	err := row.Scan(
		&entry.ID,
		&specJSON,
		&entry.Priority,
		&entry.RequestedBy,
		&entry.Status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&lastError,
		&enqueuedAt,
		&startedAt,
		&finishedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &entry.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal exposure spec: %w", err)
	}
	entry.LastError = lastError.String
	entry.EnqueuedAt = parseTimestamp(enqueuedAt)
	entry.StartedAt = parseTimestamp(startedAt.String)
	entry.FinishedAt = parseTimestamp(finishedAt.String)
	entry.UpdatedAt = parseTimestamp(updatedAt)
	return &entry, nil
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
