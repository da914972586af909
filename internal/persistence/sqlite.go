package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"
)

const (
	sqliteBackend  = "sqlite"
	defaultTimeout = 5 * time.Second
)

// SQLiteStore keeps the snapshot in a SQLite database. The snapshot row and
// the item rows are replaced together in one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close snapshot database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
	}

	// One writer at a time; saves are already serialized by Writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close snapshot database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}

	logging.Info("Snapshot database initialized at %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		processed INTEGER NOT NULL,
		total INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	);

	-- group_name is empty for items that matched no group
	CREATE TABLE IF NOT EXISTS scan_items (
		position INTEGER PRIMARY KEY,
		identifier TEXT NOT NULL,
		group_name TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	start := time.Now()
	err := s.save(ctx, snap)
	metrics.SnapshotSaveDuration.WithLabelValues(sqliteBackend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues(sqliteBackend, "error").Inc()
		return err
	}
	metrics.SnapshotSavesTotal.WithLabelValues(sqliteBackend, "success").Inc()
	logging.Debug("Saved snapshot to %s (processed=%d, total=%d)", s.path, snap.Processed, snap.Total)
	return nil
}

func (s *SQLiteStore) save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_items`); err != nil {
		return fmt.Errorf("failed to clear snapshot items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_items (position, identifier, group_name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	pos := 0
	insert := func(id, group string) error {
		if _, err := stmt.ExecContext(ctx, pos, id, group); err != nil {
			return fmt.Errorf("failed to insert snapshot item %s: %w", id, err)
		}
		pos++
		return nil
	}
	for group, ids := range snap.Groups {
		for _, id := range ids {
			if err := insert(id, group); err != nil {
				return err
			}
		}
	}
	for _, id := range snap.Others {
		if err := insert(id, ""); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_snapshot (id, processed, total, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET processed = excluded.processed, total = excluded.total, saved_at = excluded.saved_at
	`, snap.Processed, snap.Total, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write snapshot counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot, or returns ErrNoSnapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	snap, err := s.load(ctx)
	switch {
	case err == nil:
		metrics.SnapshotLoadsTotal.WithLabelValues(sqliteBackend, "success").Inc()
	case errors.Is(err, ErrCorruptSnapshot):
		metrics.SnapshotLoadsTotal.WithLabelValues(sqliteBackend, "corrupt").Inc()
	case errors.Is(err, ErrNoSnapshot):
		metrics.SnapshotLoadsTotal.WithLabelValues(sqliteBackend, "missing").Inc()
	default:
		metrics.SnapshotLoadsTotal.WithLabelValues(sqliteBackend, "error").Inc()
	}
	return snap, err
}

func (s *SQLiteStore) load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Groups: make(map[string][]string)}

	err := s.db.QueryRowContext(ctx, `SELECT processed, total FROM scan_snapshot WHERE id = 1`).
		Scan(&snap.Processed, &snap.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot counters: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT identifier, group_name FROM scan_items ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, group string
		if err := rows.Scan(&id, &group); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		if group == "" {
			snap.Others = append(snap.Others, id)
			continue
		}
		snap.Groups[group] = append(snap.Groups[group], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot items: %w", err)
	}

	if err := snap.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return snap, nil
}
