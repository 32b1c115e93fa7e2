package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// ListUpdateRepository records ingestion runs
type ListUpdateRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewListUpdateRepository creates a new list update repository
func NewListUpdateRepository(db *pgxpool.Pool, logger *logrus.Logger) *ListUpdateRepository {
	return &ListUpdateRepository{
		db:  db,
		log: logger,
	}
}

var _ domain.ListUpdateRepository = (*ListUpdateRepository)(nil)

const listUpdateColumns = `id, update_time, sample_type, cases_added, cases_updated, cases_skipped,
	cases_failed, success, error, reports_added, reports_updated`

func (r *ListUpdateRepository) Create(ctx context.Context, lu *domain.ListUpdate) error {
	if lu.UpdateTime.IsZero() {
		lu.UpdateTime = time.Now().UTC()
	}
	query := `
		INSERT INTO list_updates (
			update_time, sample_type, cases_added, cases_updated, cases_skipped, cases_failed,
			success, error, reports_added, reports_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.QueryRow(ctx, query, lu.UpdateTime, string(lu.SampleType), lu.CasesAdded, lu.CasesUpdated,
		lu.CasesSkipped, lu.CasesFailed, lu.Success, lu.Error, nonNilStrings(lu.ReportsAdded),
		nonNilStrings(lu.ReportsUpdated)).Scan(&lu.ID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"sample_type": lu.SampleType,
			"error":       err,
		}).Error("Failed to record list update")
		return fmt.Errorf("recording list update: %w", err)
	}
	return nil
}

// Since returns the runs recorded at or after since, oldest first
func (r *ListUpdateRepository) Since(ctx context.Context, since time.Time) ([]domain.ListUpdate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listUpdateColumns+`
		FROM list_updates
		WHERE update_time >= $1
		ORDER BY update_time, id`, since)
	if err != nil {
		return nil, fmt.Errorf("listing list updates: %w", err)
	}
	return scanListUpdates(rows)
}

// Recent returns the latest runs, newest first
func (r *ListUpdateRepository) Recent(ctx context.Context, limit int) ([]domain.ListUpdate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+listUpdateColumns+`
		FROM list_updates
		ORDER BY update_time DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing list updates: %w", err)
	}
	return scanListUpdates(rows)
}

func scanListUpdates(rows pgx.Rows) ([]domain.ListUpdate, error) {
	defer rows.Close()

	out := []domain.ListUpdate{}
	for rows.Next() {
		var lu domain.ListUpdate
		var sampleType string
		if err := rows.Scan(&lu.ID, &lu.UpdateTime, &sampleType, &lu.CasesAdded, &lu.CasesUpdated,
			&lu.CasesSkipped, &lu.CasesFailed, &lu.Success, &lu.Error, &lu.ReportsAdded,
			&lu.ReportsUpdated); err != nil {
			return nil, fmt.Errorf("scanning list update: %w", err)
		}
		lu.SampleType = domain.SampleType(sampleType)
		out = append(out, lu)
	}
	return out, rows.Err()
}
