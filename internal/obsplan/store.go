package obsplan

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the plan database was written by a
// different schema version.
var ErrSchemaMismatch = errors.New("plan schema version mismatch")

// Target is one planned pointing with its exposure request.
type Target struct {
	ID         int64
	Name       string
	RADeg      float64
	DecDeg     float64
	Filter     string
	ExpTime    time.Duration
	Binning    int
	SetCount   int
	Priority   int
	Enabled    bool
	ObservedAt time.Time
}

// Store reads and seeds observation plans backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the plan database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
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
			return fmt.Errorf("create plan schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record plan schema version: %w", err)
		}
		return tx.Commit()
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read plan schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// AddTarget seeds a plan target and returns its id.
func (s *Store) AddTarget(ctx context.Context, target Target) (int64, error) {
	if target.Name == "" {
		return 0, fmt.Errorf("target requires a name")
	}
	if target.Filter == "" {
		target.Filter = "L"
	}
	if target.Binning <= 0 {
		target.Binning = 1
	}
	if target.SetCount <= 0 {
		target.SetCount = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_targets (
            name, ra_deg, dec_deg, filter, exptime_ms, binning, set_count, priority, enabled
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		target.Name,
		target.RADeg,
		target.DecDeg,
		target.Filter,
		int64(target.ExpTime/time.Millisecond),
		target.Binning,
		target.SetCount,
		target.Priority,
	)
	if err != nil {
		return 0, fmt.Errorf("insert plan target: %w", err)
	}
	return res.LastInsertId()
}

const targetColumns = `id, name, ra_deg, dec_deg, filter, exptime_ms, binning,
    set_count, priority, enabled, observed_at`

// NextTarget returns the highest priority enabled target not yet
// observed, or nil when the plan is exhausted.
func (s *Store) NextTarget(ctx context.Context) (*Target, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+targetColumns+` FROM plan_targets
         WHERE enabled = 1 AND observed_at IS NULL
         ORDER BY priority DESC, id ASC
         LIMIT 1`)
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return target, err
}

// Targets lists the whole plan in dispatch order.
func (s *Store) Targets(ctx context.Context) ([]*Target, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+targetColumns+" FROM plan_targets ORDER BY priority DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list plan targets: %w", err)
	}
	defer rows.Close()
	var targets []*Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// MarkObserved records that the target's exposure sets were enqueued.
func (s *Store) MarkObserved(ctx context.Context, id int64) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		"UPDATE plan_targets SET observed_at = ? WHERE id = ?", timestamp, id)
	if err != nil {
		return fmt.Errorf("mark target observed: %w", err)
	}
	return nil
}

// ResetObserved clears observation marks, typically at the start of a
// new night.
func (s *Store) ResetObserved(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE plan_targets SET observed_at = NULL"); err != nil {
		return fmt.Errorf("reset observed marks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*Target, error) {
	var (
		target     Target
		exptimeMS  int64
		enabled    int
		observedAt sql.NullString
	)
	err := row.Scan(
		&target.ID,
		&target.Name,
		&target.RADeg,
		&target.DecDeg,
		&target.Filter,
		&exptimeMS,
		&target.Binning,
		&target.SetCount,
		&target.Priority,
		&enabled,
		&observedAt,
	)
	if err != nil {
		return nil, err
	}
	target.ExpTime = time.Duration(exptimeMS) * time.Millisecond
	target.Enabled = enabled != 0
	if observedAt.Valid && observedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, observedAt.String); err == nil {
			target.ObservedAt = ts
		}
	}
	return &target, nil
}
