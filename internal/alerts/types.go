// Package alerts stores case alerts: participants staff want to hear about as
// soon as a case for them arrives from the CIP-API.
package alerts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gel2mdt-server/internal/domain"
)

// CaseAlert watches for cases of one participant in one programme
type CaseAlert struct {
	ID         int64             `json:"id,omitempty"`
	GELID      string            `json:"gel_id"`
	SampleType domain.SampleType `json:"sample_type"`
	Comment    string            `json:"comment,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Validate normalises the GeL ID and checks the sample type
func (a *CaseAlert) Validate() error {
	a.GELID = strings.TrimSpace(a.GELID)
	if a.GELID == "" {
		return domain.NewValidationError("gel_id", "is required", a.GELID)
	}
	if !a.SampleType.IsValid() {
		return domain.NewValidationError("sample_type", "must be raredisease or cancer", a.SampleType)
	}
	return nil
}

// Store defines the interface for case alert storage operations.
type Store interface {
	// Save stores an alert. An alert for the same participant and sample type is updated in place.
	Save(ctx context.Context, alert *CaseAlert) error

	// Get returns the alert with the given ID or domain.ErrNotFound.
	Get(ctx context.Context, id int64) (*CaseAlert, error)

	// Find returns the alert for a participant, or nil when there is none.
	Find(ctx context.Context, gelID string, sampleType domain.SampleType) (*CaseAlert, error)

	// List returns alerts newest first. An empty sample type lists both programmes.
	List(ctx context.Context, sampleType domain.SampleType, limit, offset int) ([]*CaseAlert, error)

	// Update rewrites the comment and participant of an existing alert.
	Update(ctx context.Context, alert *CaseAlert) error

	Count(ctx context.Context) (int64, error)

	Delete(ctx context.Context, id int64) error

	// ExportJSON writes every alert to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads alerts, skipping those that already exist.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// Export is the JSON document written by ExportJSON
type Export struct {
	Version    string       `json:"version"`
	ExportedAt time.Time    `json:"exported_at"`
	Count      int          `json:"count"`
	Alerts     []*CaseAlert `json:"alerts"`
}

// maxExportLimit caps a single export
const maxExportLimit = 1000000

// NewStore opens the backend selected by config. The postgres backend reuses the
// application database.
func NewStore(config domain.AlertsConfig, databaseURL string) (Store, error) {
	switch config.Backend {
	case "", "sqlite":
		path := config.SQLitePath
		if path == "" {
			path = "data/case_alerts.db"
		}
		return NewSQLiteStore(path)
	case "postgres":
		return NewPostgresStoreFromURL(databaseURL)
	default:
		return nil, fmt.Errorf("unknown case alert backend %q", config.Backend)
	}
}
