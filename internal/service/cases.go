package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/events"
	"github.com/gel2mdt-server/pkg/external"
	"github.com/gel2mdt-server/pkg/hgvs"
)

// CaseService is the application layer over stored cases
type CaseService struct {
	cases     domain.CaseRepository
	mdts      domain.MDTRepository
	panels    domain.PanelRepository
	updates   domain.ListUpdateRepository
	checker   external.SyntaxChecker
	publisher events.Publisher
	gmcs      []string
	logger    *logrus.Logger
}

// CaseServiceDeps collects the collaborators of a CaseService. Checker and Publisher may be nil.
type CaseServiceDeps struct {
	Cases     domain.CaseRepository
	MDTs      domain.MDTRepository
	Panels    domain.PanelRepository
	Updates   domain.ListUpdateRepository
	Checker   external.SyntaxChecker
	Publisher events.Publisher
}

// NewCaseService creates a new case service. gmcs is the default GMC filter of listings.
func NewCaseService(deps CaseServiceDeps, gmcs []string, logger *logrus.Logger) *CaseService {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &CaseService{
		cases:     deps.Cases,
		mdts:      deps.MDTs,
		panels:    deps.Panels,
		updates:   deps.Updates,
		checker:   deps.Checker,
		publisher: deps.Publisher,
		gmcs:      gmcs,
		logger:    logger,
	}
}

// LatestCases lists the latest version of every case, restricted to gmcs or the configured default
func (s *CaseService) LatestCases(ctx context.Context, sampleType domain.SampleType, gmcs []string) ([]domain.CaseSummary, error) {
	if !sampleType.IsValid() {
		return nil, domain.NewValidationError("sample_type", "must be raredisease or cancer", sampleType)
	}
	if len(gmcs) == 0 {
		gmcs = s.gmcs
	}
	return s.cases.LatestCases(ctx, sampleType, gmcs)
}

func (s *CaseService) CaseDetail(ctx context.Context, reportID int64) (*domain.CaseDetail, error) {
	return s.cases.GetCaseDetail(ctx, reportID)
}

// UpdateReport applies workflow edits and announces case status changes
func (s *CaseService) UpdateReport(ctx context.Context, reportID int64, update domain.ReportUpdate, user string) (*domain.InterpretationReport, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	before, err := s.cases.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	after, err := s.cases.UpdateReport(ctx, reportID, update)
	if err != nil {
		return nil, err
	}

	if after.CaseStatus != before.CaseStatus {
		s.logger.WithFields(logrus.Fields{
			"report_id": reportID,
			"from":      before.CaseStatus,
			"to":        after.CaseStatus,
			"user":      user,
		}).Info("Case status changed")
		err := s.publisher.Publish(ctx, events.CaseEvent{
			Type:            events.CaseStatusChanged,
			IRFamilyID:      after.IRFamilyRef,
			ReportID:        after.ID,
			ArchivedVersion: after.ArchivedVersion,
			SampleType:      after.SampleType,
			CaseStatus:      after.CaseStatus,
			User:            user,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to publish status change")
		}
	}
	return after, nil
}

func (s *CaseService) UpdateProband(ctx context.Context, proband *domain.Proband) error {
	return s.cases.UpdateProband(ctx, proband)
}

func (s *CaseService) UpdateRelative(ctx context.Context, relative *domain.Relative) error {
	return s.cases.UpdateRelative(ctx, relative)
}

// AddComment attaches a note to a report version
func (s *CaseService) AddComment(ctx context.Context, reportID int64, user, text string) (*domain.CaseComment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("comment", "must not be empty", text)
	}
	if user == "" {
		user = "unknown"
	}
	c := &domain.CaseComment{ReportID: reportID, User: user, Comment: text}
	if err := s.cases.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CaseService) EditComment(ctx context.Context, commentID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NewValidationError("comment", "must not be empty", text)
	}
	return s.cases.UpdateComment(ctx, commentID, text)
}

func (s *CaseService) DeleteComment(ctx context.Context, commentID int64) error {
	return s.cases.DeleteComment(ctx, commentID)
}

func (s *CaseService) UpdateValidation(ctx context.Context, probandVariantID int64, v domain.VariantValidation) (*domain.ProbandVariant, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return s.cases.UpdateVariantValidation(ctx, probandVariantID, v)
}

func (s *CaseService) SelectTranscript(ctx context.Context, probandVariantID, transcriptVariantID int64) error {
	return s.cases.SelectTranscript(ctx, probandVariantID, transcriptVariantID)
}

// SetPreferredTranscript pins the transcript auto-selected for a gene on future ingestions
func (s *CaseService) SetPreferredTranscript(ctx context.Context, pt domain.PreferredTranscript) error {
	if err := hgvs.ValidateGeneSymbol(pt.GeneSymbol); err != nil {
		return err
	}
	if err := hgvs.ValidateTranscript(pt.TranscriptName); err != nil {
		return err
	}
	if pt.GenomeAssembly != "GRCh37" && pt.GenomeAssembly != "GRCh38" {
		return domain.NewValidationError("genome_assembly", "must be GRCh37 or GRCh38", pt.GenomeAssembly)
	}
	return s.cases.SetPreferredTranscript(ctx, pt)
}

// CheckHGVS validates a description with Mutalyzer once it has the basic
// reference:type.change shape
func (s *CaseService) CheckHGVS(ctx context.Context, description string) (*external.SyntaxCheck, error) {
	parsed, err := hgvs.Parse(description)
	if err != nil {
		return nil, err
	}
	if s.checker == nil {
		return nil, fmt.Errorf("%w: no HGVS checker configured", domain.ErrInvalidInput)
	}
	return s.checker.CheckSyntax(ctx, parsed.String())
}

func (s *CaseService) SearchGene(ctx context.Context, symbol string, sampleType domain.SampleType) ([]domain.GeneHit, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, domain.NewValidationError("symbol", "must not be empty", symbol)
	}
	if !sampleType.IsValid() {
		return nil, domain.NewValidationError("sample_type", "must be raredisease or cancer", sampleType)
	}
	return s.cases.SearchGene(ctx, symbol, sampleType)
}

func (s *CaseService) PanelVersion(ctx context.Context, id int64) (*domain.PanelVersion, error) {
	return s.panels.GetPanelVersion(ctx, id)
}

// Audit counts the latest cases per case status
func (s *CaseService) Audit(ctx context.Context, sampleType domain.SampleType) ([]domain.StatusCount, error) {
	if !sampleType.IsValid() {
		return nil, domain.NewValidationError("sample_type", "must be raredisease or cancer", sampleType)
	}
	return s.cases.StatusCounts(ctx, sampleType)
}

func (s *CaseService) RecentListUpdates(ctx context.Context, limit int) ([]domain.ListUpdate, error) {
	return s.updates.Recent(ctx, limit)
}

// OutcomeRecord gathers a case and the latest MDT it was discussed at
func (s *CaseService) OutcomeRecord(ctx context.Context, reportID int64) (*domain.OutcomeRecord, error) {
	detail, err := s.cases.GetCaseDetail(ctx, reportID)
	if err != nil {
		return nil, err
	}
	mdt, err := s.mdts.LatestForReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("report %d has not been to an MDT: %w", reportID, err)
	}
	return &domain.OutcomeRecord{Detail: *detail, MDT: mdt, Attendees: mdt.Attendees}, nil
}
