// Package store persists enrolled fingerprint records in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Record is one enrolled fingerprint. Text fields hold base64 payloads, the
// layout the legacy driver clients expect. NativeTemplate is never null: an
// enrollment with degraded extraction is stored with an empty string.
type Record struct {
	ID             int64
	FingerType     string
	BMPBase64      string
	WSQData        string
	NativeTemplate string
	Quality        int
	CreatedAt      time.Time
}

// Store manages fingerprint persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the fingerprint database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
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

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts a new record and returns it with the assigned id and creation
// timestamp. The template column has a NOT NULL constraint; Save normalizes
// every text field so absent values land as empty strings, not nulls.
func (s *Store) Save(ctx context.Context, rec Record) (*Record, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fingerprints (finger_type, bmp_base64, wsq_data, native_template, quality, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.FingerType,
		rec.BMPBase64,
		rec.WSQData,
		rec.NativeTemplate,
		rec.Quality,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert fingerprint: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.FindByID(ctx, id)
}

const recordColumns = "id, finger_type, bmp_base64, wsq_data, native_template, quality, created_at"

// FindByID returns the record with the given id, or nil when absent.
func (s *Store) FindByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM fingerprints WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fingerprint %d: %w", id, err)
	}
	return rec, nil
}

// FindAll returns every enrolled record ordered by id.
func (s *Store) FindAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM fingerprints ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// FindByFingerType returns all records carrying the given finger label.
func (s *Store) FindByFingerType(ctx context.Context, fingerType string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM fingerprints WHERE finger_type = ? ORDER BY id", fingerType)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints by type: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var createdAt string
	if err := row.Scan(&rec.ID, &rec.FingerType, &rec.BMPBase64, &rec.WSQData,
		&rec.NativeTemplate, &rec.Quality, &createdAt); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}
