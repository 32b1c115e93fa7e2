package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/export"
	"github.com/gel2mdt-server/internal/service"
	"github.com/gel2mdt-server/pkg/external"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeCases implements the case repository methods these tests reach; any
// other call panics through the nil embedded interface.
type fakeCases struct {
	domain.CaseRepository
	mock.Mock
}

func (f *fakeCases) LatestCases(ctx context.Context, st domain.SampleType, gmcs []string) ([]domain.CaseSummary, error) {
	args := f.Called(ctx, st, gmcs)
	return args.Get(0).([]domain.CaseSummary), args.Error(1)
}

func (f *fakeCases) GetReport(ctx context.Context, id int64) (*domain.InterpretationReport, error) {
	args := f.Called(ctx, id)
	r, _ := args.Get(0).(*domain.InterpretationReport)
	return r, args.Error(1)
}

func (f *fakeCases) GetCaseDetail(ctx context.Context, id int64) (*domain.CaseDetail, error) {
	args := f.Called(ctx, id)
	d, _ := args.Get(0).(*domain.CaseDetail)
	return d, args.Error(1)
}

func (f *fakeCases) UpdateReport(ctx context.Context, id int64, u domain.ReportUpdate) (*domain.InterpretationReport, error) {
	args := f.Called(ctx, id, u)
	r, _ := args.Get(0).(*domain.InterpretationReport)
	return r, args.Error(1)
}

func (f *fakeCases) AddComment(ctx context.Context, c *domain.CaseComment) error {
	return f.Called(ctx, c).Error(0)
}

type fakeMDTs struct {
	domain.MDTRepository
	mock.Mock
}

func (f *fakeMDTs) Get(ctx context.Context, id int64) (*domain.MDT, error) {
	args := f.Called(ctx, id)
	m, _ := args.Get(0).(*domain.MDT)
	return m, args.Error(1)
}

func (f *fakeMDTs) ReportIDs(ctx context.Context, id int64) ([]int64, error) {
	args := f.Called(ctx, id)
	return args.Get(0).([]int64), args.Error(1)
}

type fakeIngester struct {
	mock.Mock
}

func (f *fakeIngester) Run(ctx context.Context, st domain.SampleType, opts service.RunOptions) (*domain.ListUpdate, error) {
	args := f.Called(ctx, st, opts)
	lu, _ := args.Get(0).(*domain.ListUpdate)
	return lu, args.Error(1)
}

func (f *fakeIngester) UpdateForT3(ctx context.Context, id int64) (*domain.ListUpdate, error) {
	args := f.Called(ctx, id)
	lu, _ := args.Get(0).(*domain.ListUpdate)
	return lu, args.Error(1)
}

type recordingSink struct {
	names []string
}

func (r *recordingSink) Put(_ context.Context, name, _ string, _ []byte) (string, error) {
	r.names = append(r.names, name)
	return "exports/2024/03/" + name, nil
}

type fixture struct {
	server   *Server
	cases    *fakeCases
	mdts     *fakeMDTs
	ingester *fakeIngester
	sink     *recordingSink
	alerts   alerts.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	store, err := alerts.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		cases:    &fakeCases{},
		mdts:     &fakeMDTs{},
		ingester: &fakeIngester{},
		sink:     &recordingSink{},
		alerts:   store,
	}
	f.server = NewServer(domain.ServerConfig{}, Deps{
		Cases:    service.NewCaseService(service.CaseServiceDeps{Cases: f.cases, MDTs: f.mdts}, nil, logger),
		MDTs:     service.NewMDTService(f.mdts, f.cases, logger),
		Ingester: f.ingester,
		Alerts:   store,
		Archive:  f.sink,
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}, logger)
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeAppError(t *testing.T, w *httptest.ResponseRecorder) domain.AppError {
	t.Helper()
	var appErr domain.AppError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &appErr))
	return appErr
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	f.server.deps.Checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	w = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestListCases(t *testing.T) {
	f := newFixture(t)
	f.cases.On("LatestCases", mock.Anything, domain.RareDisease, []string{"Wessex", "North Thames"}).
		Return([]domain.CaseSummary{{ReportID: 1, GELID: "P1"}}, nil)

	w := f.do(http.MethodGet, "/api/v1/cases/raredisease?gmc=Wessex&gmc=North+Thames", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	f.cases.AssertExpectations(t)

	w = f.do(http.MethodGet, "/api/v1/cases/solid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeValidation, decodeAppError(t, w).Code)
}

func TestGetReport_NotFoundCarriesCorrelationID(t *testing.T) {
	f := newFixture(t)
	f.cases.On("GetCaseDetail", mock.Anything, int64(5)).Return(nil, domain.ErrNotFound)

	w := f.do(http.MethodGet, "/api/v1/reports/5", "", "X-Correlation-ID", "corr-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
	appErr := decodeAppError(t, w)
	assert.Equal(t, domain.ErrCodeNotFound, appErr.Code)
	assert.Equal(t, "corr-1", appErr.RequestID)

	w = f.do(http.MethodGet, "/api/v1/reports/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateReport(t *testing.T) {
	f := newFixture(t)
	status := domain.CaseUnderReview
	f.cases.On("GetReport", mock.Anything, int64(3)).Return(&domain.InterpretationReport{ID: 3, CaseStatus: domain.CaseNotStarted}, nil)
	f.cases.On("UpdateReport", mock.Anything, int64(3), domain.ReportUpdate{CaseStatus: &status}).
		Return(&domain.InterpretationReport{ID: 3, CaseStatus: status}, nil)

	w := f.do(http.MethodPut, "/api/v1/reports/3", `{"case_status":"U"}`, "X-Remote-User", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"case_status":"U"`)

	w = f.do(http.MethodPut, "/api/v1/reports/3", `{"case_status":"Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/v1/reports/3", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeInvalidInput, decodeAppError(t, w).Code)
}

func TestAddComment_UsesRemoteUser(t *testing.T) {
	f := newFixture(t)
	f.cases.On("AddComment", mock.Anything, mock.MatchedBy(func(c *domain.CaseComment) bool {
		return c.User == "bob" && c.Comment == "needs MDT" && c.ReportID == 8
	})).Return(nil)

	w := f.do(http.MethodPost, "/api/v1/reports/8/comments", `{"comment":" needs MDT "}`, "X-Remote-User", "bob")
	assert.Equal(t, http.StatusCreated, w.Code)
	f.cases.AssertExpectations(t)
}

func TestCheckHGVS_WithoutChecker(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/hgvs/check", `{"hgvs":"NM_000059.3:c.68_69del"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailureStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "undecodable response",
			err:        &external.DecodeError{Service: "cip_api", Attempts: 20, Err: errors.New("eof")},
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrCodeExternalAPI,
		},
		{
			name:       "error status from the CIP-API",
			err:        fmt.Errorf("failed to fetch case: %w", &external.StatusError{Service: "cip_api", Status: http.StatusServiceUnavailable}),
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrCodeExternalAPI,
		},
		{
			name:       "rejected token",
			err:        &external.StatusError{Service: "cip_api", Status: http.StatusUnauthorized},
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrCodeExternalAPI,
		},
		{
			name:       "open circuit breaker",
			err:        fmt.Errorf("cip_api request failed: %w", gobreaker.ErrOpenState),
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrCodeExternalAPI,
		},
		{
			name:       "connection refused",
			err:        &url.Error{Op: "Get", URL: "https://cipapi", Err: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrCodeExternalAPI,
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("loading case: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   domain.ErrCodeTimeout,
		},
		{
			name:       "upstream request cut off by the deadline",
			err:        &url.Error{Op: "Get", URL: "https://cipapi", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   domain.ErrCodeTimeout,
		},
		{
			name:       "anything else",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.ErrCodeInternalServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cases.On("GetCaseDetail", mock.Anything, int64(2)).Return(nil, tt.err)

			w := f.do(http.MethodGet, "/api/v1/reports/2", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeAppError(t, w).Code)
		})
	}
}

func TestRequestTimeoutReturnsGatewayTimeout(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(domain.ServerConfig{RequestTimeout: 20 * time.Millisecond}, f.server.deps, quietLogger())

	f.cases.On("GetCaseDetail", mock.Anything, int64(4)).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	w := f.do(http.MethodGet, "/api/v1/reports/4", "", "X-Correlation-ID", "corr-slow")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	appErr := decodeAppError(t, w)
	assert.Equal(t, domain.ErrCodeTimeout, appErr.Code)
	assert.Equal(t, "corr-slow", appErr.RequestID)
}

// openBreakerChecker fails like a Mutalyzer client whose breaker is open
type openBreakerChecker struct{}

func (openBreakerChecker) CheckSyntax(ctx context.Context, description string) (*external.SyntaxCheck, error) {
	return nil, fmt.Errorf("mutalyzer syntax check failed: mutalyzer request failed: %w", gobreaker.ErrOpenState)
}

func TestCheckHGVS_OpenBreakerIsBadGateway(t *testing.T) {
	f := newFixture(t)
	deps := f.server.deps
	deps.Cases = service.NewCaseService(service.CaseServiceDeps{Cases: f.cases, MDTs: f.mdts, Checker: openBreakerChecker{}}, nil, quietLogger())
	f.server = NewServer(domain.ServerConfig{}, deps, quietLogger())

	w := f.do(http.MethodPost, "/api/v1/hgvs/check", `{"hgvs":"NM_000059.3:c.68_69del"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.ErrCodeExternalAPI, decodeAppError(t, w).Code)
}

func TestIngest_RunsInBackground(t *testing.T) {
	f := newFixture(t)
	f.ingester.On("Run", mock.Anything, domain.Cancer, service.RunOptions{Sample: "C1", PullT3: true}).
		Return(&domain.ListUpdate{CasesAdded: 1}, nil)
	f.ingester.On("UpdateForT3", mock.Anything, int64(4)).Return(nil, domain.ErrNotFound)

	w := f.do(http.MethodPost, "/api/v1/ingest/cancer?sample=C1&pull_t3=1", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = f.do(http.MethodPost, "/api/v1/reports/4/pull-t3", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	f.server.runs.Wait()
	f.ingester.AssertExpectations(t)
}

func TestExportMDT_Archives(t *testing.T) {
	f := newFixture(t)
	f.mdts.On("Get", mock.Anything, int64(12)).Return(&domain.MDT{ID: 12, SampleType: domain.Cancer}, nil)
	f.mdts.On("ReportIDs", mock.Anything, int64(12)).Return([]int64{1}, nil)
	f.cases.On("GetCaseDetail", mock.Anything, int64(1)).Return(&domain.CaseDetail{
		Proband: domain.Proband{GELID: "C1", Forename: "Ann"},
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/mdts/12/export.xlsx?archive=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="mdt_12.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "exports/2024/03/mdt_12.xlsx", w.Header().Get("X-Archive-Key"))
	assert.Equal(t, []string{"mdt_12.xlsx"}, f.sink.names)

	// without the flag nothing is archived
	w = f.do(http.MethodGet, "/api/v1/mdts/12/export.xlsx", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.sink.names, 1)
}

func TestExportMDT_MissingTranscriptIsUnprocessable(t *testing.T) {
	f := newFixture(t)
	f.mdts.On("Get", mock.Anything, int64(3)).Return(&domain.MDT{ID: 3, SampleType: domain.RareDisease}, nil)
	f.mdts.On("ReportIDs", mock.Anything, int64(3)).Return([]int64{1}, nil)
	f.cases.On("GetCaseDetail", mock.Anything, int64(1)).Return(&domain.CaseDetail{
		IRFamily: domain.IRFamily{IRFamilyID: "9-1"},
		Variants: []domain.ProbandVariant{{Transcripts: []domain.TranscriptVariant{{GeneSymbol: "BRCA2"}}}},
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/mdts/3/export.xlsx", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeAppError(t, w).Details, "9-1")
}

func TestExportCasesCSV(t *testing.T) {
	f := newFixture(t)
	f.cases.On("LatestCases", mock.Anything, domain.RareDisease, []string(nil)).
		Return([]domain.CaseSummary{{IRFamilyID: "1-1", GELID: "P1", SampleType: domain.RareDisease, CaseStatus: domain.CaseCompleted}}, nil)
	f.cases.On("LatestCases", mock.Anything, domain.Cancer, []string(nil)).
		Return([]domain.CaseSummary{}, nil)

	w := f.do(http.MethodGet, "/api/v1/exports/cases.csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1-1,P1,Completed")
}

func TestCaseAlerts(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/case-alerts", `{"gel_id":"110000123","sample_type":"raredisease","comment":"watch"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created alerts.CaseAlert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)

	w = f.do(http.MethodPost, "/api/v1/case-alerts", `{"gel_id":"","sample_type":"raredisease"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/v1/case-alerts?sample_type=raredisease", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = f.do(http.MethodGet, "/api/v1/case-alerts/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "110000123")

	w = f.do(http.MethodPost, "/api/v1/case-alerts/import", "garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/case-alerts/"+jsonNumber(created.ID), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(http.MethodPut, "/api/v1/case-alerts/"+jsonNumber(created.ID), `{"gel_id":"110000123","sample_type":"raredisease"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHub_StreamsProgress(t *testing.T) {
	hub := NewHub(quietLogger())
	router := gin.New()
	router.GET("/ws/ingest", hub.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ingest?sample_type=cancer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// filtered out
	hub.Report(service.ProgressEvent{RunID: "r0", SampleType: domain.RareDisease, Stage: "fetch"})
	hub.Report(service.ProgressEvent{RunID: "r1", SampleType: domain.Cancer, Stage: "fetch", Processed: 1, Total: 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event service.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "r1", event.RunID)
	assert.Equal(t, 2, event.Total)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsBadFilter(t *testing.T) {
	hub := NewHub(quietLogger())
	router := gin.New()
	router.GET("/ws/ingest", hub.ServeWS)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/ingest?sample_type=solid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
