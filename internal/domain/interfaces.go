package domain

import (
	"context"
	"time"
)

// CaseRepository persists interpretation reports and everything hanging off them
type CaseRepository interface {
	LatestHash(ctx context.Context, irFamilyID string) (string, bool, error)
	SaveCase(ctx context.Context, bundle *CaseBundle, overwrite bool) (*InterpretationReport, error)
	LatestCases(ctx context.Context, sampleType SampleType, gmcs []string) ([]CaseSummary, error)
	GetReport(ctx context.Context, reportID int64) (*InterpretationReport, error)
	GetCaseDetail(ctx context.Context, reportID int64) (*CaseDetail, error)
	UpdateReport(ctx context.Context, reportID int64, update ReportUpdate) (*InterpretationReport, error)
	UpdateProband(ctx context.Context, proband *Proband) error
	UpdateRelative(ctx context.Context, relative *Relative) error
	AddComment(ctx context.Context, comment *CaseComment) error
	UpdateComment(ctx context.Context, commentID int64, text string) error
	DeleteComment(ctx context.Context, commentID int64) error
	UpdateVariantValidation(ctx context.Context, probandVariantID int64, v VariantValidation) (*ProbandVariant, error)
	SelectTranscript(ctx context.Context, probandVariantID, transcriptVariantID int64) error
	SetPreferredTranscript(ctx context.Context, pt PreferredTranscript) error
	PreferredTranscripts(ctx context.Context, assembly string) (map[string]string, error)
	SearchGene(ctx context.Context, symbol string, sampleType SampleType) ([]GeneHit, error)
	StatusCounts(ctx context.Context, sampleType SampleType) ([]StatusCount, error)
}

// PanelRepository reads stored panel versions
type PanelRepository interface {
	GetPanelVersion(ctx context.Context, id int64) (*PanelVersion, error)
}

// MDTRepository persists MDT meetings, their cases and attendees
type MDTRepository interface {
	Create(ctx context.Context, mdt *MDT) error
	Get(ctx context.Context, id int64) (*MDT, error)
	List(ctx context.Context, sampleType SampleType) ([]MDT, error)
	Update(ctx context.Context, id int64, update MDTUpdate) (*MDT, error)
	Delete(ctx context.Context, id int64) error
	AddReport(ctx context.Context, mdtID, reportID int64) error
	RemoveReport(ctx context.Context, mdtID, reportID int64) error
	ReportIDs(ctx context.Context, mdtID int64) ([]int64, error)
	LatestForReport(ctx context.Context, reportID int64) (*MDT, error)
	AddAttendee(ctx context.Context, mdtID, attendeeID int64) error
	RemoveAttendee(ctx context.Context, mdtID, attendeeID int64) error
	CreateAttendee(ctx context.Context, attendee *Attendee) error
	ListAttendees(ctx context.Context) ([]Attendee, error)
	MonthlySummaries(ctx context.Context, from, to time.Time) ([]MonthlyMDTSummary, error)
}

// ListUpdateRepository records ingestion runs
type ListUpdateRepository interface {
	Create(ctx context.Context, lu *ListUpdate) error
	Since(ctx context.Context, since time.Time) ([]ListUpdate, error)
	Recent(ctx context.Context, limit int) ([]ListUpdate, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
}
