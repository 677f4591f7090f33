package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blitztrack/internal/duel"
	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS blitztrack_jobs (
	job_id     TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS blitztrack_jobs_state_idx ON blitztrack_jobs (state);

CREATE TABLE IF NOT EXISTS blitztrack_winners (
	seq        BIGSERIAL,
	job_id     TEXT NOT NULL,
	winner     TEXT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, winner)
);

CREATE TABLE IF NOT EXISTS blitztrack_meta (
	key   TEXT PRIMARY KEY,
	value TIMESTAMPTZ NOT NULL
);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: connect: %w", err)
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("storage/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *postgresStore) Driver() string { return DriverPostgres }

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) Save(ctx context.Context, snap jobstore.Snapshot) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, w := range snap.Winners {
		batch.Queue(`
			INSERT INTO blitztrack_winners (job_id, winner, decided_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_id, winner) DO NOTHING
		`, w.JobID, w.Winner, w.DecidedAt.UTC())
	}

	ids := make([]string, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		payload, err := json.Marshal(j)
		if err != nil {
			return err
		}
		ids = append(ids, j.ID)
		batch.Queue(`
			INSERT INTO blitztrack_jobs (job_id, state, created_at, payload, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (job_id) DO UPDATE
			SET
				state = EXCLUDED.state,
				payload = EXCLUDED.payload,
				updated_at = now()
		`, j.ID, string(j.State), j.CreatedAt.UTC(), payload)
	}
	batch.Queue(`DELETE FROM blitztrack_jobs WHERE NOT (job_id = ANY($1))`, ids)
	batch.Queue(`
		INSERT INTO blitztrack_meta (key, value) VALUES ('saved_at', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, savedAt.UTC())

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage/postgres: save snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit: %w", err)
	}
	return nil
}

func (s *postgresStore) Load(ctx context.Context) (jobstore.Snapshot, bool, error) {
	if s == nil || s.pool == nil {
		return jobstore.Snapshot{}, false, ErrDisabled
	}
	snap := jobstore.Snapshot{Version: jobstore.SnapshotVersion}

	err := s.pool.QueryRow(ctx, `SELECT value FROM blitztrack_meta WHERE key = 'saved_at'`).Scan(&snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.Snapshot{}, false, nil
	}
	if err != nil {
		return jobstore.Snapshot{}, false, fmt.Errorf("storage/postgres: load meta: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT payload FROM blitztrack_jobs ORDER BY created_at, job_id`)
	if err != nil {
		return jobstore.Snapshot{}, false, fmt.Errorf("storage/postgres: load jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (duel.Job, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return duel.Job{}, err
		}
		var j duel.Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return duel.Job{}, fmt.Errorf("%w: job row: %v", ErrCorrupt, err)
		}
		return j, nil
	})
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	snap.Jobs = jobs

	wrows, err := s.pool.Query(ctx, `SELECT job_id, winner, decided_at FROM blitztrack_winners ORDER BY seq`)
	if err != nil {
		return jobstore.Snapshot{}, false, fmt.Errorf("storage/postgres: load winners: %w", err)
	}
	winners, err := pgx.CollectRows(wrows, func(row pgx.CollectableRow) (duel.LedgerEntry, error) {
		var e duel.LedgerEntry
		err := row.Scan(&e.JobID, &e.Winner, &e.DecidedAt)
		return e, err
	})
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	snap.Winners = winners
	return snap, true, nil
}
