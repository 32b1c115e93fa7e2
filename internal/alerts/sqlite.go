package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gel2mdt-server/internal/domain"
)

// SQLiteStore implements Store on a local SQLite file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens or creates the database file and its schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the API read while the scheduler writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(s scanner) (*CaseAlert, error) {
	a := &CaseAlert{}
	var sampleType string
	if err := s.Scan(&a.ID, &a.GELID, &sampleType, &a.Comment, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.SampleType = domain.SampleType(sampleType)
	return a, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS case_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gel_id TEXT NOT NULL,
		sample_type TEXT NOT NULL,
		comment TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(gel_id, sample_type)
	);

	CREATE INDEX IF NOT EXISTS idx_case_alerts_sample_type ON case_alerts(sample_type);
	`
	_, err := db.Exec(schema)
	return err
}

const alertColumns = `id, gel_id, sample_type, comment, created_at, updated_at`

func (s *SQLiteStore) Save(ctx context.Context, alert *CaseAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()

	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM case_alerts WHERE gel_id = ? AND sample_type = ?",
		alert.GELID, string(alert.SampleType),
	).Scan(&existingID)

	if err == nil {
		alert.ID = existingID
		alert.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			"UPDATE case_alerts SET comment = ?, updated_at = ? WHERE id = ?",
			alert.Comment, now, existingID)
		if err != nil {
			return fmt.Errorf("failed to update case alert: %w", err)
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	alert.CreatedAt = now
	alert.UpdatedAt = now
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO case_alerts (gel_id, sample_type, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, alert.GELID, string(alert.SampleType), alert.Comment, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert case alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	alert.ID = id
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*CaseAlert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM case_alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case alert %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) Find(ctx context.Context, gelID string, sampleType domain.SampleType) (*CaseAlert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM case_alerts WHERE gel_id = ? AND sample_type = ? LIMIT 1",
		gelID, string(sampleType))
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context, sampleType domain.SampleType, limit, offset int) ([]*CaseAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM case_alerts
		WHERE ? = '' OR sample_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, string(sampleType), string(sampleType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*CaseAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, alert *CaseAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	alert.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"UPDATE case_alerts SET gel_id = ?, sample_type = ?, comment = ?, updated_at = ? WHERE id = ?",
		alert.GELID, string(alert.SampleType), alert.Comment, alert.UpdatedAt, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update case alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case alert %d: %w", alert.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM case_alerts").Scan(&count)
	return count, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM case_alerts WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, "", maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list case alerts: %w", err)
	}
	if all == nil {
		all = []*CaseAlert{}
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Alerts:     all,
	})
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("%w: failed to decode JSON: %v", domain.ErrInvalidInput, err)
	}

	for _, a := range export.Alerts {
		existing, err := s.Find(ctx, a.GELID, a.SampleType)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		a.ID = 0
		if err := s.Save(ctx, a); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
