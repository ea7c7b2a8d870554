package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS seen_rows (
	run      TEXT NOT NULL,
	key      TEXT NOT NULL,
	kind     TEXT NOT NULL DEFAULT '',
	resource TEXT NOT NULL DEFAULT '',
	data     BLOB,
	PRIMARY KEY (run, key)
)`

// SQLiteSet is an on-disk RowStore for runs whose rows outgrow memory.
// A database file holds a single run: opening it under a run id drops the
// keys and rows of every other run, while reopening under the same id
// resumes where the previous process stopped.
type SQLiteSet struct {
	db    *sql.DB
	path  string
	runID string
}

// OpenSQLiteSet opens (or creates) the database at path and namespaces
// its keys under runID. Use ":memory:" for a throwaway set.
func OpenSQLiteSet(path, runID string) (*SQLiteSet, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM seen_rows WHERE run <> ?`, runID); err != nil {
		db.Close()
		return nil, fmt.Errorf("dropping stale runs: %w", err)
	}

	return &SQLiteSet{db: db, path: path, runID: runID}, nil
}

// Path returns the database file path.
func (s *SQLiteSet) Path() string {
	return s.path
}

// Add implements KeySet.
func (s *SQLiteSet) Add(ctx context.Context, key Key) (bool, error) {
	return s.insert(ctx, key, Row{}, nil)
}

// AddRow implements RowStore.
func (s *SQLiteSet) AddRow(ctx context.Context, key Key, row Row) (bool, error) {
	data := row.Data
	if data == nil {
		data = []byte("{}")
	}
	return s.insert(ctx, key, row, data)
}

// insert stores key with data; a nil data stores the key alone.
func (s *SQLiteSet) insert(ctx context.Context, key Key, row Row, data any) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_rows (run, key, kind, resource, data) VALUES (?, ?, ?, ?, ?)`,
		s.runID, key.String(), row.Kind, row.Resource, data)
	if err != nil {
		Errors.WithLabelValues(BackendSQLite, "add").Inc()
		return false, fmt.Errorf("insert key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		Errors.WithLabelValues(BackendSQLite, "add").Inc()
		return false, fmt.Errorf("rows affected: %w", err)
	}

	observeAdd(BackendSQLite, n == 1)
	return n == 1, nil
}

// Rows implements RowStore. Keys added without a row are skipped.
func (s *SQLiteSet) Rows(ctx context.Context, fn func(Row) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, resource, data FROM seen_rows WHERE run = ? AND data IS NOT NULL ORDER BY rowid`,
		s.runID)
	if err != nil {
		Errors.WithLabelValues(BackendSQLite, "rows").Inc()
		return fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Kind, &row.Resource, &row.Data); err != nil {
			Errors.WithLabelValues(BackendSQLite, "rows").Inc()
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		Errors.WithLabelValues(BackendSQLite, "rows").Inc()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}

// Len implements KeySet.
func (s *SQLiteSet) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_rows WHERE run = ?`, s.runID).Scan(&n)
	if err != nil {
		Errors.WithLabelValues(BackendSQLite, "len").Inc()
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return n, nil
}

// Close implements KeySet. The run's rows stay on disk so the run can be
// resumed; the next run opened on the file removes them.
func (s *SQLiteSet) Close() error {
	if err := s.db.Close(); err != nil {
		Errors.WithLabelValues(BackendSQLite, "close").Inc()
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
