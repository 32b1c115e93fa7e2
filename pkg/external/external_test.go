package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPollConfig() domain.PollConfig {
	return domain.PollConfig{
		TransportRetries: 2,
		DecodeRetries:    3,
		DecodeBackoff:    time.Millisecond,
		Timeout:          5 * time.Second,
	}
}

// staticAuth hands out a fixed sequence of tokens
type staticAuth struct {
	tokens      []string
	current     int
	invalidated int
}

func (a *staticAuth) Headers(ctx context.Context, service Service) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "JWT "+a.tokens[a.current])
	return h, nil
}

func (a *staticAuth) Invalidate(ctx context.Context, service Service) {
	a.invalidated++
	if a.current < len(a.tokens)-1 {
		a.current++
	}
}

func newTestPollClient(t *testing.T, server *httptest.Server, auth HeaderSource) *PollClient {
	t.Helper()
	overrides := map[string]string{}
	for _, s := range []Service{ServiceCIPAPI, ServiceCIPAPIForReport, ServicePanelApp, ServiceEnsembl, ServiceMutalyzer, ServiceGeneNames} {
		overrides[string(s)] = server.URL + "/" + string(s)
	}
	registry, err := NewRegistry(false, overrides)
	require.NoError(t, err)

	cfg := testPollConfig()
	logger := testLogger()
	return NewPollClient(cfg, registry, NewHTTPClient(cfg, logger), auth, logger)
}

func TestPollClient_FetchJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ensembl/lookup/id/ENSG1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "ENSG1", "display_name": "BRCA1"}`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	resp, err := client.Fetch(context.Background(), ServiceEnsembl, "lookup/id/ENSG1", false)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	doc, ok := resp.JSON.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BRCA1", doc["display_name"])
}

func TestPollClient_PanelAppSendsNoJSONHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"result": {}}`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	_, err := client.Fetch(context.Background(), ServicePanelApp, "get_panel/abc/?version=1.0", false)
	require.NoError(t, err)
}

func TestPollClient_FetchContentReturnsRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>report</body></html>`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, &staticAuth{tokens: []string{"abc"}})
	resp, err := client.Fetch(context.Background(), ServiceCIPAPI, "clinical-report/1/1/1", true)
	require.NoError(t, err)

	assert.Nil(t, resp.JSON)
	assert.Equal(t, `<html><body>report</body></html>`, string(resp.Body))
}

func TestPollClient_RetriesUntilDecodable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>Bad gateway</html>`))
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	resp, err := client.Fetch(context.Background(), ServiceGeneNames, "search/ENSG1/", false)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, map[string]any{"ok": true}, resp.JSON)
}

func TestPollClient_DecodeRetriesAreBounded(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	_, err := client.Fetch(context.Background(), ServiceMutalyzer, "checkSyntax?variant=x", false)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 3, decodeErr.Attempts)
	assert.Equal(t, ServiceMutalyzer, decodeErr.Service)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPollClient_DecodeRetryHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	client.decodeRetries = 100
	client.decodeBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, ServiceEnsembl, "x", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollClient_AuthHeaderAndRefreshOn401(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "JWT fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail": "expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"count": 0}`))
	}))
	defer server.Close()

	auth := &staticAuth{tokens: []string{"stale", "fresh"}}
	client := newTestPollClient(t, server, auth)

	resp, err := client.Fetch(context.Background(), ServiceCIPAPI, "interpretation-request", false)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []string{"JWT stale", "JWT fresh"}, seen)
	assert.Equal(t, 1, auth.invalidated)
}

func TestPollClient_AuthRequiredWithoutAuthenticator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	}))
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	_, err := client.Fetch(context.Background(), ServiceCIPAPI, "interpretation-request", false)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestPollClient_UnknownService(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestPollClient(t, server, nil)
	_, err := client.Fetch(context.Background(), Service("labkey"), "x", false)
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestRetryTransport_RetriesConnectionFailures(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, &netTimeoutError{}
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	})

	rt := newRetryTransport(base, 5, testLogger())
	rt.backoff = func(int) time.Duration { return 0 }

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 3, calls)
}

func TestRetryTransport_GivesUp(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, &netTimeoutError{}
	})

	rt := newRetryTransport(base, 2, testLogger())
	rt.backoff = func(int) time.Duration { return 0 }

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryTransport_DoesNotRetryOtherErrors(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("tls: bad certificate")
	})

	rt := newRetryTransport(base, 5, testLogger())
	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type netTimeoutError struct{}

func (e *netTimeoutError) Error() string   { return "i/o timeout" }
func (e *netTimeoutError) Timeout() bool   { return true }
func (e *netTimeoutError) Temporary() bool { return true }
