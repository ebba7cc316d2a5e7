package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// Store persists run records in SQLite. It assumes a single writer; the
// orchestrator owns the store and serializes writes through its
// aggregation loop.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the run database. An empty path uses an
// in-memory database.
func NewStore(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to open run store", err)
	}

	// modernc.org/sqlite needs a single connection; pragmas set per-database.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ierrors.New(ierrors.ErrCodeStoreFailed,
				fmt.Sprintf("failed to apply %q", pragma), err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		revision TEXT NOT NULL,
		status TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunk_results (
		run_id TEXT NOT NULL,
		chunk_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		err_code TEXT NOT NULL DEFAULT '',
		err_message TEXT NOT NULL DEFAULT '',
		findings TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, chunk_id)
	);
	CREATE TABLE IF NOT EXISTS published_keys (
		run_id TEXT NOT NULL,
		finding_key TEXT NOT NULL,
		PRIMARY KEY (run_id, finding_key)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target, created_at);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to create run schema", err)
	}

	return &Store{db: db}, nil
}

// Put writes the whole record, run row and chunk rows, replacing any
// previous state under the same run ID.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, target, revision, status, total_chunks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			target = excluded.target,
			revision = excluded.revision,
			status = excluded.status,
			total_chunks = excluded.total_chunks,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		rec.RunID, rec.Target, rec.Revision, string(rec.Status),
		rec.TotalChunks, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to upsert run", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_results WHERE run_id = ?`, rec.RunID); err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to clear chunk results", err)
	}
	for i := 0; i < rec.TotalChunks; i++ {
		if err := upsertChunk(ctx, tx, rec.RunID, rec.Chunks[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to commit run", err)
	}
	return nil
}

// SaveChunk persists one chunk result and bumps the run's updated_at.
func (s *Store) SaveChunk(ctx context.Context, runID string, res ChunkResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertChunk(ctx, tx, runID, res); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE run_id = ?`,
		time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to touch run", err)
	}

	if err := tx.Commit(); err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to commit chunk result", err)
	}
	return nil
}

// SetStatus persists a run status change.
func (s *Store) SetStatus(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
		string(status), time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to update run status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.New(ierrors.ErrCodeRunNotFound, fmt.Sprintf("run %s not found", runID), nil)
	}
	return nil
}

// Snapshot returns a deep, read-only copy of the run's current state.
func (s *Store) Snapshot(ctx context.Context, runID string) (*Record, error) {
	rec := &Record{}
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, target, revision, status, total_chunks, created_at, updated_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&rec.RunID, &rec.Target, &rec.Revision, &status, &rec.TotalChunks, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ierrors.New(ierrors.ErrCodeRunNotFound, fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to load run", err)
	}
	rec.Status = RunStatus(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()

	rec.Chunks = make(map[int]ChunkResult, rec.TotalChunks)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, status, err_code, err_message, findings
		FROM chunk_results WHERE run_id = ? ORDER BY chunk_id`, runID)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to load chunk results", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ChunkResult
		var cs, findingsJSON string
		if err := rows.Scan(&c.ChunkID, &cs, &c.ErrCode, &c.ErrMessage, &findingsJSON); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to scan chunk result", err)
		}
		c.Status = ChunkStatus(cs)
		if findingsJSON != "" && findingsJSON != "[]" {
			if err := json.Unmarshal([]byte(findingsJSON), &c.Findings); err != nil {
				return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to decode findings", err)
			}
		}
		rec.Chunks[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to read chunk results", err)
	}
	return rec, nil
}

// LatestForTarget returns the most recently created run for a target.
func (s *Store) LatestForTarget(ctx context.Context, target string) (*Record, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id FROM runs WHERE target = ? ORDER BY created_at DESC, run_id LIMIT 1`,
		target).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, ierrors.New(ierrors.ErrCodeRunNotFound,
			fmt.Sprintf("no runs recorded for %s", target), nil)
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to find latest run", err)
	}
	return s.Snapshot(ctx, runID)
}

// DeleteOlderThan removes runs created before the cutoff age, with their
// chunk results and published keys. Returns the number of runs removed.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age).UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM chunk_results WHERE run_id IN (SELECT run_id FROM runs WHERE created_at < ?)`,
		`DELETE FROM published_keys WHERE run_id IN (SELECT run_id FROM runs WHERE created_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to sweep run children", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to sweep runs", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to commit sweep", err)
	}
	return int(n), nil
}

// MarkPublished records a finding key as posted for the run. Returns false
// when the key was already recorded.
func (s *Store) MarkPublished(ctx context.Context, runID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO published_keys (run_id, finding_key) VALUES (?, ?)`,
		runID, key)
	if err != nil {
		return false, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to record published key", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsPublished reports whether a finding key was already posted for the run.
func (s *Store) IsPublished(ctx context.Context, runID, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM published_keys WHERE run_id = ? AND finding_key = ?`,
		runID, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to check published key", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func upsertChunk(ctx context.Context, tx *sql.Tx, runID string, res ChunkResult) error {
	findings := []byte("[]")
	if len(res.Findings) > 0 {
		var err error
		findings, err = json.Marshal(res.Findings)
		if err != nil {
			return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to encode findings", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_results (run_id, chunk_id, status, err_code, err_message, findings)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, chunk_id) DO UPDATE SET
			status = excluded.status,
			err_code = excluded.err_code,
			err_message = excluded.err_message,
			findings = excluded.findings`,
		runID, res.ChunkID, string(res.Status), res.ErrCode, res.ErrMessage, string(findings))
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to upsert chunk result", err)
	}
	return nil
}
