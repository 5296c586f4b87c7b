// ABOUTME: SQLite implementation of the CallStore interface using modernc.org/sqlite
// ABOUTME: Provides call ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timestampLayout is fixed-width so created_at sorts lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the CallStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ CallStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_calls_resource_created
			ON calls(resource_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_calls_created
			ON calls(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordCall appends a call record to the ledger.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec *CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO calls (id, envelope_id, resource_id, success, kind, status_code, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.EnvelopeID,
		rec.ResourceID,
		rec.Success,
		rec.Kind,
		rec.StatusCode,
		rec.DurationMs,
		rec.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateCall
		}
		return fmt.Errorf("inserting call record: %w", err)
	}

	s.logger.Debug("recorded call",
		"id", rec.ID,
		"resource_id", rec.ResourceID,
		"success", rec.Success,
		"kind", rec.Kind,
	)
	return nil
}

// GetCall retrieves a single call record by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, envelope_id, resource_id, success, kind, status_code, duration_ms, created_at
		FROM calls
		WHERE id = ?
	`, id)

	rec, err := scanCallRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const listCallsQuery = `
	SELECT id, envelope_id, resource_id, success, kind, status_code, duration_ms, created_at
	FROM calls
	WHERE (? = '' OR resource_id = ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListCalls returns call records matching the filter, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, f CallFilter) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, listCallsQuery,
		f.ResourceID, f.ResourceID,
		normalizeCallLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []CallRecord{}
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calls: %w", err)
	}
	return records, nil
}

// CallStats returns per-resource totals ordered by resource ID.
func (s *SQLiteStore) CallStats(ctx context.Context) ([]CallStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		FROM calls
		GROUP BY resource_id
		ORDER BY resource_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying call stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := []CallStats{}
	for rows.Next() {
		var st CallStats
		if err := rows.Scan(&st.ResourceID, &st.Total, &st.Failures); err != nil {
			return nil, fmt.Errorf("scanning call stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call stats: %w", err)
	}
	return stats, nil
}

// scanCallRecord scans a row into a CallRecord.
func scanCallRecord(scanner interface{ Scan(dest ...any) error }) (CallRecord, error) {
	var rec CallRecord
	var createdStr string

	if err := scanner.Scan(
		&rec.ID,
		&rec.EnvelopeID,
		&rec.ResourceID,
		&rec.Success,
		&rec.Kind,
		&rec.StatusCode,
		&rec.DurationMs,
		&createdStr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning call record: %w", err)
	}

	var err error
	rec.CreatedAt, err = time.Parse(timestampLayout, createdStr)
	if err != nil {
		return rec, fmt.Errorf("parsing created_at: %w", err)
	}
	return rec, nil
}

// isUniqueConstraintError checks if the error is a SQLite unique constraint violation
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
