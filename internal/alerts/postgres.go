package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/gel2mdt-server/internal/domain"
)

// PostgresStore implements Store on the application database. The table is
// created by the schema migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a small dedicated pool
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Save(ctx context.Context, alert *CaseAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO case_alerts (gel_id, sample_type, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (gel_id, sample_type) DO UPDATE SET
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		alert.GELID, string(alert.SampleType), alert.Comment, now, now,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save case alert: %w", err)
	}
	alert.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*CaseAlert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM case_alerts WHERE id = $1", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case alert %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Find(ctx context.Context, gelID string, sampleType domain.SampleType) (*CaseAlert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM case_alerts WHERE gel_id = $1 AND sample_type = $2 LIMIT 1",
		gelID, string(sampleType))
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find case alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, sampleType domain.SampleType, limit, offset int) ([]*CaseAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM case_alerts
		WHERE $1 = '' OR sample_type = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(sampleType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list case alerts: %w", err)
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

func (s *PostgresStore) Update(ctx context.Context, alert *CaseAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	alert.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"UPDATE case_alerts SET gel_id = $1, sample_type = $2, comment = $3, updated_at = $4 WHERE id = $5",
		alert.GELID, string(alert.SampleType), alert.Comment, alert.UpdatedAt, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update case alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case alert %d: %w", alert.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM case_alerts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count case alerts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM case_alerts WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete case alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
