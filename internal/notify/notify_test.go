package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingMailer struct {
	sent []Message
}

func (r *recordingMailer) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

type stubCases map[domain.SampleType][]domain.CaseSummary

func (s stubCases) LatestCases(_ context.Context, st domain.SampleType, _ []string) ([]domain.CaseSummary, error) {
	return s[st], nil
}

type mockUpdates struct {
	mock.Mock
}

func (m *mockUpdates) Create(ctx context.Context, lu *domain.ListUpdate) error {
	return m.Called(ctx, lu).Error(0)
}

func (m *mockUpdates) Since(ctx context.Context, since time.Time) ([]domain.ListUpdate, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]domain.ListUpdate), args.Error(1)
}

func (m *mockUpdates) Recent(ctx context.Context, limit int) ([]domain.ListUpdate, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.ListUpdate), args.Error(1)
}

var emailConfig = domain.EmailConfig{
	FromAddress:       "gel2mdt@example.nhs.uk",
	Bioinformatics:    []string{"bioinf@example.nhs.uk"},
	RareDiseaseAlerts: []string{"rd@example.nhs.uk"},
	CancerAlerts:      []string{"cancer@example.nhs.uk"},
	ReportRecipients:  []string{"reports@example.nhs.uk"},
}

func TestSendgridMailer_Send(t *testing.T) {
	var payload map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := emailConfig
	cfg.SendgridAPIKey = "SG.key"
	m := newSendgridMailer(cfg, srv.URL, quietLogger())

	err := m.Send(context.Background(), Message{
		To:          []string{"a@example.nhs.uk", "b@example.nhs.uk"},
		Subject:     "GeL2MDT ListUpdate",
		Body:        "hello",
		Attachments: []Attachment{{Name: "x.csv", ContentType: "text/csv", Data: []byte("a,b")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer SG.key", auth)
	assert.Equal(t, "GeL2MDT ListUpdate", payload["subject"])
	tos := payload["personalizations"].([]interface{})[0].(map[string]interface{})["to"].([]interface{})
	assert.Len(t, tos, 2)
	att := payload["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "x.csv", att["filename"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("a,b")), att["content"])
}

func TestSendgridMailer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	cfg := emailConfig
	cfg.SendgridAPIKey = "SG.bad"
	m := newSendgridMailer(cfg, srv.URL, quietLogger())

	err := m.Send(context.Background(), Message{To: []string{"a@example.nhs.uk"}, Subject: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	err = m.Send(context.Background(), Message{Subject: "nobody"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewMailer_WithoutKeyLogs(t *testing.T) {
	m := NewMailer(domain.EmailConfig{}, quietLogger())
	assert.IsType(t, &LogMailer{}, m)
	assert.NoError(t, m.Send(context.Background(), Message{Subject: "x"}))
}

func newAlertStore(t *testing.T) alerts.Store {
	t.Helper()
	store, err := alerts.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNotifier_CaseAlertEmail(t *testing.T) {
	ctx := context.Background()
	store := newAlertStore(t)
	require.NoError(t, store.Save(ctx, &alerts.CaseAlert{GELID: "P1", SampleType: domain.RareDisease, Comment: "watch"}))
	require.NoError(t, store.Save(ctx, &alerts.CaseAlert{GELID: "C9", SampleType: domain.Cancer}))

	cases := stubCases{
		domain.RareDisease: {{ReportID: 4, GELID: "P1", IRFamilyID: "100-2"}, {ReportID: 5, GELID: "P2"}},
		domain.Cancer:      {{ReportID: 6, GELID: "C1"}},
	}
	mailer := &recordingMailer{}
	n := NewNotifier(mailer, cases, store, nil, emailConfig, quietLogger())

	sent, err := n.CaseAlertEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "GeL2MDT RD CaseAlert", mailer.sent[0].Subject)
	assert.Equal(t, emailConfig.RareDiseaseAlerts, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "P1\t100-2\twatch")
}

func TestNotifier_ListUpdateEmail(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	midnight := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	updates := new(mockUpdates)
	updates.On("Since", ctx, midnight).Return([]domain.ListUpdate{{
		SampleType: domain.RareDisease, UpdateTime: midnight.Add(time.Hour), CasesAdded: 3,
	}}, nil).Once()
	mailer := &recordingMailer{}
	n := NewNotifier(mailer, stubCases{}, nil, updates, emailConfig, quietLogger())

	sent, err := n.ListUpdateEmail(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, emailConfig.Bioinformatics, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "raredisease\t2024-05-06 01:00:00\t3")

	updates.On("Since", ctx, midnight).Return([]domain.ListUpdate{}, nil).Once()
	sent, err = n.ListUpdateEmail(ctx, now)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, mailer.sent, 1)
}

func TestNotifier_ReportEmails(t *testing.T) {
	cases := stubCases{
		domain.RareDisease: {{GELID: "P1", IRFamilyID: "1-1", CaseStatus: domain.CaseUnderReview, SampleType: domain.RareDisease}},
		domain.Cancer:      {{GELID: "C1", IRFamilyID: "2-1", CaseStatus: domain.CaseCompleted, SampleType: domain.Cancer}},
	}
	mailer := &recordingMailer{}
	n := NewNotifier(mailer, cases, nil, nil, emailConfig, quietLogger())

	require.NoError(t, n.UpdateReportEmail(context.Background()))
	require.NoError(t, n.CasesNotCompletedEmail(context.Background()))

	require.Len(t, mailer.sent, 2)
	csv := string(mailer.sent[0].Attachments[0].Data)
	assert.Contains(t, csv, "1-1,P1,Under Review")
	assert.Contains(t, csv, "2-1,C1,Completed")
	assert.Equal(t, "cases_not_completed.xlsx", mailer.sent[1].Attachments[0].Name)
}
