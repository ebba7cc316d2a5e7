package rules

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// MetaStore persists excerpt metadata in SQLite so search hits can be
// resolved to full excerpts without reparsing the rulebook.
type MetaStore struct {
	db *sql.DB
}

// NewMetaStore opens (or creates) the metadata database. An empty path
// uses an in-memory database.
func NewMetaStore(path string) (*MetaStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to open metadata store", err)
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

	schema := `CREATE TABLE IF NOT EXISTS excerpts (
		id TEXT PRIMARY KEY,
		source_file TEXT NOT NULL,
		title TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to create excerpts table", err)
	}

	return &MetaStore{db: db}, nil
}

// Upsert inserts or replaces excerpts in one transaction.
func (m *MetaStore) Upsert(ctx context.Context, excerpts []Excerpt) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO excerpts
		(id, source_file, title, severity, category, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_file = excluded.source_file,
			title = excluded.title,
			severity = excluded.severity,
			category = excluded.category,
			body = excluded.body`)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range excerpts {
		if _, err := stmt.ExecContext(ctx, e.ID, e.SourceFile, e.Title, e.Severity, e.Category, e.Body); err != nil {
			return ierrors.New(ierrors.ErrCodeStoreFailed,
				fmt.Sprintf("failed to upsert excerpt %s", e.ID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to commit upsert", err)
	}
	return nil
}

// Get resolves excerpt IDs to excerpts, preserving the requested order and
// skipping unknown IDs.
func (m *MetaStore) Get(ctx context.Context, ids []string) ([]Excerpt, error) {
	out := make([]Excerpt, 0, len(ids))
	for _, id := range ids {
		var e Excerpt
		err := m.db.QueryRowContext(ctx,
			`SELECT id, source_file, title, severity, category, body FROM excerpts WHERE id = ?`, id).
			Scan(&e.ID, &e.SourceFile, &e.Title, &e.Severity, &e.Category, &e.Body)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeStoreFailed,
				fmt.Sprintf("failed to load excerpt %s", id), err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteAll clears the table, used before full re-ingestion.
func (m *MetaStore) DeleteAll(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM excerpts`); err != nil {
		return ierrors.New(ierrors.ErrCodeStoreFailed, "failed to clear excerpts", err)
	}
	return nil
}

// AllIDs returns every stored excerpt ID.
func (m *MetaStore) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM excerpts ORDER BY id`)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to list excerpt IDs", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to scan excerpt ID", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored excerpts.
func (m *MetaStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM excerpts`).Scan(&n); err != nil {
		return 0, ierrors.New(ierrors.ErrCodeStoreFailed, "failed to count excerpts", err)
	}
	return n, nil
}

// Close closes the database.
func (m *MetaStore) Close() error {
	return m.db.Close()
}
