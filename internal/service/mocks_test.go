package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/events"
	"github.com/gel2mdt-server/pkg/external"
)

// MockCaseSource is a mock implementation of external.CaseSource
type MockCaseSource struct {
	mock.Mock
}

func (m *MockCaseSource) ListCases(ctx context.Context, opts external.CaseListOptions) ([]external.CaseListEntry, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]external.CaseListEntry), args.Error(1)
}

func (m *MockCaseSource) GetCase(ctx context.Context, id string, version int) (json.RawMessage, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockCaseSource) GetClinicalReport(ctx context.Context, id string, version, latest int) ([]byte, int, error) {
	args := m.Called(ctx, id, version, latest)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Int(1), args.Error(2)
}

// MockPanelSource is a mock implementation of external.PanelSource
type MockPanelSource struct {
	mock.Mock
}

func (m *MockPanelSource) GetPanel(ctx context.Context, panelID, version string) (*external.PanelAppPanel, error) {
	args := m.Called(ctx, panelID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.PanelAppPanel), args.Error(1)
}

// MockGeneSource is a mock implementation of external.GeneSource
type MockGeneSource struct {
	mock.Mock
}

func (m *MockGeneSource) SearchEnsembl(ctx context.Context, ensemblID string) (*external.HGNCRecord, error) {
	args := m.Called(ctx, ensemblID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.HGNCRecord), args.Error(1)
}

func (m *MockGeneSource) FetchSymbol(ctx context.Context, symbol string) (*external.HGNCRecord, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.HGNCRecord), args.Error(1)
}

// MockAnnotator is a mock implementation of external.Annotator
type MockAnnotator struct {
	mock.Mock
}

func (m *MockAnnotator) Liftover(ctx context.Context, assembly, chromosome string, start, end int64) (*external.EnsemblMapping, error) {
	args := m.Called(ctx, assembly, chromosome, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.EnsemblMapping), args.Error(1)
}

func (m *MockAnnotator) AnnotateRegion(ctx context.Context, chromosome string, position int64, reference, alternate string) (*external.VEPResult, error) {
	args := m.Called(ctx, chromosome, position, reference, alternate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.VEPResult), args.Error(1)
}

// MockCaseRepository is a mock implementation of domain.CaseRepository
type MockCaseRepository struct {
	mock.Mock
}

func (m *MockCaseRepository) LatestHash(ctx context.Context, irFamilyID string) (string, bool, error) {
	args := m.Called(ctx, irFamilyID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCaseRepository) SaveCase(ctx context.Context, bundle *domain.CaseBundle, overwrite bool) (*domain.InterpretationReport, error) {
	args := m.Called(ctx, bundle, overwrite)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InterpretationReport), args.Error(1)
}

func (m *MockCaseRepository) LatestCases(ctx context.Context, sampleType domain.SampleType, gmcs []string) ([]domain.CaseSummary, error) {
	args := m.Called(ctx, sampleType, gmcs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CaseSummary), args.Error(1)
}

func (m *MockCaseRepository) GetReport(ctx context.Context, reportID int64) (*domain.InterpretationReport, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InterpretationReport), args.Error(1)
}

func (m *MockCaseRepository) GetCaseDetail(ctx context.Context, reportID int64) (*domain.CaseDetail, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CaseDetail), args.Error(1)
}

func (m *MockCaseRepository) UpdateReport(ctx context.Context, reportID int64, update domain.ReportUpdate) (*domain.InterpretationReport, error) {
	args := m.Called(ctx, reportID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InterpretationReport), args.Error(1)
}

func (m *MockCaseRepository) UpdateProband(ctx context.Context, proband *domain.Proband) error {
	return m.Called(ctx, proband).Error(0)
}

func (m *MockCaseRepository) UpdateRelative(ctx context.Context, relative *domain.Relative) error {
	return m.Called(ctx, relative).Error(0)
}

func (m *MockCaseRepository) AddComment(ctx context.Context, comment *domain.CaseComment) error {
	return m.Called(ctx, comment).Error(0)
}

func (m *MockCaseRepository) UpdateComment(ctx context.Context, commentID int64, text string) error {
	return m.Called(ctx, commentID, text).Error(0)
}

func (m *MockCaseRepository) DeleteComment(ctx context.Context, commentID int64) error {
	return m.Called(ctx, commentID).Error(0)
}

func (m *MockCaseRepository) UpdateVariantValidation(ctx context.Context, probandVariantID int64, v domain.VariantValidation) (*domain.ProbandVariant, error) {
	args := m.Called(ctx, probandVariantID, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProbandVariant), args.Error(1)
}

func (m *MockCaseRepository) SelectTranscript(ctx context.Context, probandVariantID, transcriptVariantID int64) error {
	return m.Called(ctx, probandVariantID, transcriptVariantID).Error(0)
}

func (m *MockCaseRepository) SetPreferredTranscript(ctx context.Context, pt domain.PreferredTranscript) error {
	return m.Called(ctx, pt).Error(0)
}

func (m *MockCaseRepository) PreferredTranscripts(ctx context.Context, assembly string) (map[string]string, error) {
	args := m.Called(ctx, assembly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockCaseRepository) SearchGene(ctx context.Context, symbol string, sampleType domain.SampleType) ([]domain.GeneHit, error) {
	args := m.Called(ctx, symbol, sampleType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GeneHit), args.Error(1)
}

func (m *MockCaseRepository) StatusCounts(ctx context.Context, sampleType domain.SampleType) ([]domain.StatusCount, error) {
	args := m.Called(ctx, sampleType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StatusCount), args.Error(1)
}

// MockListUpdateRepository is a mock implementation of domain.ListUpdateRepository
type MockListUpdateRepository struct {
	mock.Mock
}

func (m *MockListUpdateRepository) Create(ctx context.Context, lu *domain.ListUpdate) error {
	return m.Called(ctx, lu).Error(0)
}

func (m *MockListUpdateRepository) Since(ctx context.Context, since time.Time) ([]domain.ListUpdate, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ListUpdate), args.Error(1)
}

func (m *MockListUpdateRepository) Recent(ctx context.Context, limit int) ([]domain.ListUpdate, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ListUpdate), args.Error(1)
}

// MockMDTRepository is a mock implementation of domain.MDTRepository
type MockMDTRepository struct {
	mock.Mock
}

func (m *MockMDTRepository) Create(ctx context.Context, mdt *domain.MDT) error {
	return m.Called(ctx, mdt).Error(0)
}

func (m *MockMDTRepository) Get(ctx context.Context, id int64) (*domain.MDT, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MDT), args.Error(1)
}

func (m *MockMDTRepository) List(ctx context.Context, sampleType domain.SampleType) ([]domain.MDT, error) {
	args := m.Called(ctx, sampleType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MDT), args.Error(1)
}

func (m *MockMDTRepository) Update(ctx context.Context, id int64, update domain.MDTUpdate) (*domain.MDT, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MDT), args.Error(1)
}

func (m *MockMDTRepository) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMDTRepository) AddReport(ctx context.Context, mdtID, reportID int64) error {
	return m.Called(ctx, mdtID, reportID).Error(0)
}

func (m *MockMDTRepository) RemoveReport(ctx context.Context, mdtID, reportID int64) error {
	return m.Called(ctx, mdtID, reportID).Error(0)
}

func (m *MockMDTRepository) ReportIDs(ctx context.Context, mdtID int64) ([]int64, error) {
	args := m.Called(ctx, mdtID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockMDTRepository) LatestForReport(ctx context.Context, reportID int64) (*domain.MDT, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MDT), args.Error(1)
}

func (m *MockMDTRepository) AddAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	return m.Called(ctx, mdtID, attendeeID).Error(0)
}

func (m *MockMDTRepository) RemoveAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	return m.Called(ctx, mdtID, attendeeID).Error(0)
}

func (m *MockMDTRepository) CreateAttendee(ctx context.Context, attendee *domain.Attendee) error {
	return m.Called(ctx, attendee).Error(0)
}

func (m *MockMDTRepository) ListAttendees(ctx context.Context) ([]domain.Attendee, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attendee), args.Error(1)
}

func (m *MockMDTRepository) MonthlySummaries(ctx context.Context, from, to time.Time) ([]domain.MonthlyMDTSummary, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MonthlyMDTSummary), args.Error(1)
}

// recordingPublisher keeps published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.CaseEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingProgress keeps progress events for assertions
type recordingProgress struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingProgress) Report(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingProgress) last() ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
