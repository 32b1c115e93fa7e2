package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/export"
)

// CaseLister returns the latest version of every case of a programme
type CaseLister interface {
	LatestCases(ctx context.Context, sampleType domain.SampleType, gmcs []string) ([]domain.CaseSummary, error)
}

// Notifier builds and sends the scheduled digests
type Notifier struct {
	mailer  Mailer
	cases   CaseLister
	alerts  alerts.Store
	updates domain.ListUpdateRepository
	config  domain.EmailConfig
	logger  *logrus.Logger
}

func NewNotifier(mailer Mailer, cases CaseLister, alertStore alerts.Store, updates domain.ListUpdateRepository,
	config domain.EmailConfig, logger *logrus.Logger) *Notifier {
	return &Notifier{
		mailer:  mailer,
		cases:   cases,
		alerts:  alertStore,
		updates: updates,
		config:  config,
		logger:  logger,
	}
}

// AlertMatch is a latest case belonging to a participant with a case alert
type AlertMatch struct {
	Alert      *alerts.CaseAlert
	ReportID   int64
	IRFamilyID string
}

// MatchAlerts pairs the alerts of a programme with the latest cases of their participants
func (n *Notifier) MatchAlerts(ctx context.Context, sampleType domain.SampleType) ([]AlertMatch, error) {
	watching, err := n.alerts.List(ctx, sampleType, 100000, 0)
	if err != nil {
		return nil, fmt.Errorf("listing case alerts: %w", err)
	}
	if len(watching) == 0 {
		return nil, nil
	}
	cases, err := n.cases.LatestCases(ctx, sampleType, nil)
	if err != nil {
		return nil, fmt.Errorf("listing latest %s cases: %w", sampleType, err)
	}

	byGELID := make(map[string][]domain.CaseSummary, len(cases))
	for _, c := range cases {
		byGELID[c.GELID] = append(byGELID[c.GELID], c)
	}
	var out []AlertMatch
	for _, a := range watching {
		for _, c := range byGELID[a.GELID] {
			out = append(out, AlertMatch{Alert: a, ReportID: c.ReportID, IRFamilyID: c.IRFamilyID})
		}
	}
	return out, nil
}

// CaseAlertEmail tells each programme's team when one of their alerts has matched a case
func (n *Notifier) CaseAlertEmail(ctx context.Context) (int, error) {
	sent := 0
	for _, st := range []domain.SampleType{domain.RareDisease, domain.Cancer} {
		matches, err := n.MatchAlerts(ctx, st)
		if err != nil {
			return sent, err
		}
		if len(matches) == 0 {
			continue
		}

		subject, to := "GeL2MDT RD CaseAlert", n.config.RareDiseaseAlerts
		if st == domain.Cancer {
			subject, to = "GeL2MDT Cancer CaseAlert", n.config.CancerAlerts
		}
		body := "A Case Alert has been triggered, please visit GEL2MDT to check and remove this alert!\n\n"
		for _, m := range matches {
			body += fmt.Sprintf("%s\t%s\t%s\n", m.Alert.GELID, m.IRFamilyID, m.Alert.Comment)
		}
		if err := n.mailer.Send(ctx, Message{To: to, Subject: subject, Body: body}); err != nil {
			return sent, err
		}
		n.logger.WithFields(logrus.Fields{"sample_type": st, "matches": len(matches)}).Info("Case alert email sent")
		sent++
	}
	return sent, nil
}

// ListUpdateEmail mails bioinformatics the ingestion runs since midnight. Nothing
// is sent when no run happened.
func (n *Notifier) ListUpdateEmail(ctx context.Context, now time.Time) (bool, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	updates, err := n.updates.Since(ctx, midnight)
	if err != nil {
		return false, fmt.Errorf("loading list updates: %w", err)
	}
	if len(updates) == 0 {
		return false, nil
	}
	err = n.mailer.Send(ctx, Message{
		To:      n.config.Bioinformatics,
		Subject: "GeL2MDT ListUpdate",
		Body:    string(export.ListUpdatesTSV(updates)),
	})
	return err == nil, err
}

func (n *Notifier) latestCases(ctx context.Context) ([]domain.CaseSummary, error) {
	var all []domain.CaseSummary
	for _, st := range []domain.SampleType{domain.RareDisease, domain.Cancer} {
		cases, err := n.cases.LatestCases(ctx, st, nil)
		if err != nil {
			return nil, fmt.Errorf("listing latest %s cases: %w", st, err)
		}
		all = append(all, cases...)
	}
	return all, nil
}

// UpdateReportEmail sends the CSV listing of every latest case
func (n *Notifier) UpdateReportEmail(ctx context.Context) error {
	cases, err := n.latestCases(ctx)
	if err != nil {
		return err
	}
	data, err := export.CasesCSV(cases)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, Message{
		To:      n.config.ReportRecipients,
		Subject: "GeL2MDT Case Export",
		Body:    "Please see attached report",
		Attachments: []Attachment{{
			Name: "GEL2MDT_export.csv", ContentType: export.CSVContentType, Data: data,
		}},
	})
}

// CasesNotCompletedEmail sends the workbook of latest cases still open
func (n *Notifier) CasesNotCompletedEmail(ctx context.Context) error {
	cases, err := n.latestCases(ctx)
	if err != nil {
		return err
	}
	data, err := export.NotCompletedWorkbook(cases)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, Message{
		To:      n.config.ReportRecipients,
		Subject: "GeL2MDT Cases Not Completed",
		Body:    "Please see attached the cases which have not been completed",
		Attachments: []Attachment{{
			Name: "cases_not_completed.xlsx", ContentType: export.XLSXContentType, Data: data,
		}},
	})
}
