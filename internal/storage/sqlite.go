package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"blitztrack/internal/duel"
	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage/sqlite: migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Driver() string { return DriverSQLite }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, snap jobstore.Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Ledger rows are insert-only.
	for _, w := range snap.Winners {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO winners(job_id, winner, decided_at) VALUES(?,?,?)`,
			w.JobID, w.Winner, w.DecidedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("storage/sqlite: insert winner: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("storage/sqlite: clear jobs: %w", err)
	}
	for _, j := range snap.Jobs {
		payload, err := json.Marshal(j)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs(job_id, state, created_at, payload) VALUES(?,?,?,?)`,
			j.ID, string(j.State), j.CreatedAt.UTC().Format(time.RFC3339Nano), string(payload),
		); err != nil {
			return fmt.Errorf("storage/sqlite: insert job %s: %w", j.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('saved_at', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		savedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("storage/sqlite: meta: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteStore) Load(ctx context.Context) (jobstore.Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return jobstore.Snapshot{}, false, ErrDisabled
	}
	snap := jobstore.Snapshot{Version: jobstore.SnapshotVersion}

	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&savedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return jobstore.Snapshot{}, false, nil
	case err != nil:
		return jobstore.Snapshot{}, false, err
	}
	snap.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM jobs ORDER BY created_at, job_id`)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			_ = rows.Close()
			return jobstore.Snapshot{}, false, err
		}
		var j duel.Job
		if err := json.Unmarshal([]byte(payload), &j); err != nil {
			_ = rows.Close()
			return jobstore.Snapshot{}, false, fmt.Errorf("%w: job row: %v", ErrCorrupt, err)
		}
		snap.Jobs = append(snap.Jobs, j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return jobstore.Snapshot{}, false, err
	}
	_ = rows.Close()

	wrows, err := s.db.QueryContext(ctx, `SELECT job_id, winner, decided_at FROM winners ORDER BY seq`)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	defer wrows.Close()
	for wrows.Next() {
		var (
			e  duel.LedgerEntry
			at string
		)
		if err := wrows.Scan(&e.JobID, &e.Winner, &at); err != nil {
			return jobstore.Snapshot{}, false, err
		}
		if e.DecidedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return jobstore.Snapshot{}, false, fmt.Errorf("%w: winner row: %v", ErrCorrupt, err)
		}
		snap.Winners = append(snap.Winners, e)
	}
	if err := wrows.Err(); err != nil {
		return jobstore.Snapshot{}, false, err
	}
	return snap, true, nil
}
