package external

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// retryTransport retries connection-level failures. A response with any status
// code is returned as is.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *logrus.Logger
}

func newRetryTransport(base http.RoundTripper, maxRetries int, logger *logrus.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:       base,
		maxRetries: maxRetries,
		backoff:    defaultTransportBackoff,
		logger:     logger,
	}
}

func defaultTransportBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 250 * time.Millisecond
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// RoundTrip implements http.RoundTripper. Only bodiless requests are retried.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.backoff(attempt)):
			}
		}

		resp, err := t.base.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if req.Body != nil && req.Body != http.NoBody {
			break
		}
		if !isConnectionError(err) || req.Context().Err() != nil {
			break
		}

		t.logger.WithFields(logrus.Fields{
			"url":     req.URL.Redacted(),
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Debug("Retrying request after connection failure")
	}
	return nil, lastErr
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
