package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// MDTService manages MDT meetings and the cases taken to them
type MDTService struct {
	mdts   domain.MDTRepository
	cases  domain.CaseRepository
	logger *logrus.Logger
}

// NewMDTService creates a new MDT service
func NewMDTService(mdts domain.MDTRepository, cases domain.CaseRepository, logger *logrus.Logger) *MDTService {
	return &MDTService{mdts: mdts, cases: cases, logger: logger}
}

// MDTExport is an MDT with the full detail of every case on it
type MDTExport struct {
	MDT   *domain.MDT
	Cases []domain.CaseDetail
}

// Create starts a new MDT; an unset date means today
func (s *MDTService) Create(ctx context.Context, mdt *domain.MDT, creator string) error {
	if !mdt.SampleType.IsValid() {
		return domain.NewValidationError("sample_type", "must be raredisease or cancer", mdt.SampleType)
	}
	if mdt.DateOfMDT.IsZero() {
		mdt.DateOfMDT = time.Now().UTC()
	}
	mdt.Creator = creator
	if err := s.mdts.Create(ctx, mdt); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"mdt_id":      mdt.ID,
		"sample_type": mdt.SampleType,
		"creator":     creator,
	}).Info("MDT created")
	return nil
}

func (s *MDTService) Get(ctx context.Context, id int64) (*domain.MDT, error) {
	return s.mdts.Get(ctx, id)
}

func (s *MDTService) List(ctx context.Context, sampleType domain.SampleType) ([]domain.MDT, error) {
	if !sampleType.IsValid() {
		return nil, domain.NewValidationError("sample_type", "must be raredisease or cancer", sampleType)
	}
	return s.mdts.List(ctx, sampleType)
}

func (s *MDTService) Update(ctx context.Context, id int64, update domain.MDTUpdate) (*domain.MDT, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.mdts.Update(ctx, id, update)
}

func (s *MDTService) Delete(ctx context.Context, id int64) error {
	return s.mdts.Delete(ctx, id)
}

// AddReport puts a case on an MDT. The case must be of the MDT's sample type; an
// unassigned or required MDT status moves to in progress.
func (s *MDTService) AddReport(ctx context.Context, mdtID, reportID int64) error {
	mdt, err := s.mdts.Get(ctx, mdtID)
	if err != nil {
		return err
	}
	report, err := s.cases.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.SampleType != mdt.SampleType {
		return domain.NewValidationError("report_id",
			fmt.Sprintf("%s case cannot go to a %s MDT", report.SampleType, mdt.SampleType), reportID)
	}

	if err := s.mdts.AddReport(ctx, mdtID, reportID); err != nil {
		return err
	}
	if report.MDTStatus == domain.MDTUnassigned || report.MDTStatus == domain.MDTRequired {
		inProgress := domain.MDTInProgress
		if _, err := s.cases.UpdateReport(ctx, reportID, domain.ReportUpdate{MDTStatus: &inProgress}); err != nil {
			return err
		}
	}
	return nil
}

func (s *MDTService) RemoveReport(ctx context.Context, mdtID, reportID int64) error {
	return s.mdts.RemoveReport(ctx, mdtID, reportID)
}

func (s *MDTService) AddAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	return s.mdts.AddAttendee(ctx, mdtID, attendeeID)
}

func (s *MDTService) RemoveAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	return s.mdts.RemoveAttendee(ctx, mdtID, attendeeID)
}

func (s *MDTService) CreateAttendee(ctx context.Context, attendee *domain.Attendee) error {
	if attendee.Name == "" {
		return domain.NewValidationError("name", "is required", attendee.Name)
	}
	if !attendee.Role.IsValid() {
		return domain.NewValidationError("role", "must be clinician, clinical_scientist or other_staff", attendee.Role)
	}
	return s.mdts.CreateAttendee(ctx, attendee)
}

func (s *MDTService) ListAttendees(ctx context.Context) ([]domain.Attendee, error) {
	return s.mdts.ListAttendees(ctx)
}

// ExportData loads an MDT and the detail of each of its cases
func (s *MDTService) ExportData(ctx context.Context, mdtID int64) (*MDTExport, error) {
	mdt, err := s.mdts.Get(ctx, mdtID)
	if err != nil {
		return nil, err
	}
	ids, err := s.mdts.ReportIDs(ctx, mdtID)
	if err != nil {
		return nil, err
	}
	out := &MDTExport{MDT: mdt, Cases: make([]domain.CaseDetail, 0, len(ids))}
	for _, id := range ids {
		detail, err := s.cases.GetCaseDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		out.Cases = append(out.Cases, *detail)
	}
	return out, nil
}

// MonthlySummaries covers the MDTs held from the start of the month `months` ago
// until now. Every month of the range has a row per programme, zero or not.
func (s *MDTService) MonthlySummaries(ctx context.Context, months int, now time.Time) ([]domain.MonthlyMDTSummary, error) {
	if months <= 0 {
		months = 12
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -months+1, 0)
	found, err := s.mdts.MonthlySummaries(ctx, start, now)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]domain.MonthlyMDTSummary, len(found))
	for _, m := range found {
		byMonth[summaryKey(m.Year, m.Month, m.SampleType)] = m
	}

	programmes := []domain.SampleType{domain.RareDisease, domain.Cancer}
	out := make([]domain.MonthlyMDTSummary, 0, months*len(programmes))
	for month := start; !month.After(now); month = month.AddDate(0, 1, 0) {
		for _, st := range programmes {
			m, ok := byMonth[summaryKey(month.Year(), month.Month(), st)]
			if !ok {
				m = domain.MonthlyMDTSummary{Year: month.Year(), Month: month.Month(), SampleType: st}
			}
			if m.Outstanding == nil {
				m.Outstanding = []domain.OutstandingCase{}
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func summaryKey(year int, month time.Month, st domain.SampleType) string {
	return fmt.Sprintf("%04d-%02d/%s", year, month, st)
}
