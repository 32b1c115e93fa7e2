package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DecodeError is returned when a response body could not be parsed as JSON within
// the configured number of attempts
type DecodeError struct {
	Service  Service
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: response from %s (status %d) was not valid JSON after %d attempts: %v",
		e.Service, e.URL, e.Status, e.Attempts, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusError is returned for a JSON fetch answered with a non-2xx status. A 401
// or 403 matches ErrAuthentication.
type StatusError struct {
	Service  Service
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned status %d", e.Service, e.Endpoint, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrAuthentication
	}
	return nil
}

// IsNotFound reports a 404 from the upstream service
func (e *StatusError) IsNotFound() bool { return e.Status == http.StatusNotFound }

const maxStatusBody = 512

func newStatusError(service Service, endpoint string, status int, body []byte) *StatusError {
	detail := strings.TrimSpace(string(body))
	var doc struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil {
		if doc.Detail != "" {
			detail = doc.Detail
		} else if doc.Error != "" {
			detail = doc.Error
		}
	}
	if len(detail) > maxStatusBody {
		detail = detail[:maxStatusBody]
	}
	return &StatusError{Service: service, Endpoint: endpoint, Status: status, Body: detail}
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// Response is the result of one Fetch
type Response struct {
	Service Service
	URL     string
	Status  int
	Body    []byte
	// JSON is the decoded body, nil for raw content fetches
	JSON any
}

// Decode unmarshals the body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.Service, err)
	}
	return nil
}

// Fetcher is the request surface the typed helpers and the ingestion service use
type Fetcher interface {
	Fetch(ctx context.Context, service Service, endpoint string, content bool) (*Response, error)
}

// HeaderSource supplies authorization headers for services that need them
type HeaderSource interface {
	Headers(ctx context.Context, service Service) (http.Header, error)
	Invalidate(ctx context.Context, service Service)
}

// PollClient issues GET requests against registered services
type PollClient struct {
	registry      *Registry
	httpClient    *http.Client
	auth          HeaderSource
	breakers      *BreakerSet
	limiter       *rate.Limiter
	decodeRetries int
	decodeBackoff time.Duration
	logger        *logrus.Logger
}

// NewHTTPClient returns the client used for polling, retrying connection failures
func NewHTTPClient(config domain.PollConfig, logger *logrus.Logger) *http.Client {
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: newRetryTransport(http.DefaultTransport, config.TransportRetries, logger),
	}
}

// NewPollClient creates a poll client. auth may be nil when no service needs it.
func NewPollClient(config domain.PollConfig, registry *Registry, httpClient *http.Client, auth HeaderSource, logger *logrus.Logger) *PollClient {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.RateLimit
	if burst < 1 {
		burst = 1
	}
	retries := config.DecodeRetries
	if retries < 1 {
		retries = 1
	}

	return &PollClient{
		registry:      registry,
		httpClient:    httpClient,
		auth:          auth,
		breakers:      NewBreakerSet(registry, logger),
		limiter:       rate.NewLimiter(limit, burst),
		decodeRetries: retries,
		decodeBackoff: config.DecodeBackoff,
		logger:        logger,
	}
}

// Registry returns the service registry of the client
func (c *PollClient) Registry() *Registry { return c.registry }

// Breakers returns the circuit breakers of the client
func (c *PollClient) Breakers() *BreakerSet { return c.breakers }

// Fetch requests endpoint from service. With content set the raw body is returned
// whatever the status; otherwise the body is decoded as JSON, retrying the request
// with linear backoff while decoding fails, and a non-2xx status is a *StatusError.
func (c *PollClient) Fetch(ctx context.Context, service Service, endpoint string, content bool) (*Response, error) {
	target, entry, err := c.registry.Resolve(service, endpoint)
	if err != nil {
		return nil, err
	}

	log := c.logger.WithFields(logrus.Fields{
		"service":  service,
		"endpoint": endpoint,
	})

	for attempt := 1; ; attempt++ {
		status, body, err := c.get(ctx, service, entry, target)
		if err != nil {
			return nil, err
		}

		resp := &Response{Service: service, URL: target, Status: status, Body: body}
		if content {
			return resp, nil
		}

		var decoded any
		decodeErr := json.Unmarshal(body, &decoded)
		if decodeErr == nil {
			if !isSuccess(status) {
				log.WithField("status", status).Warn("Service returned an error status")
				return nil, newStatusError(service, endpoint, status, body)
			}
			resp.JSON = decoded
			return resp, nil
		}

		// Client errors are not retried; server error pages are, like bad JSON
		if !isSuccess(status) && !retryableStatus(status) {
			return nil, newStatusError(service, endpoint, status, body)
		}

		if attempt >= c.decodeRetries {
			if !isSuccess(status) {
				return nil, newStatusError(service, endpoint, status, body)
			}
			log.WithFields(logrus.Fields{
				"status":   status,
				"attempts": attempt,
			}).Error("Giving up on undecodable response")
			return nil, &DecodeError{Service: service, URL: target, Status: status, Attempts: attempt, Err: decodeErr}
		}

		wait := time.Duration(attempt) * c.decodeBackoff
		log.WithFields(logrus.Fields{
			"status":  status,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("Response was not valid JSON, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *PollClient) get(ctx context.Context, service Service, entry ServiceEntry, target string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	status, body, err := c.do(ctx, service, entry, target)
	if err != nil {
		return 0, nil, err
	}

	// A rejected token is renewed once
	if entry.RequiresAuth && status == http.StatusUnauthorized && c.auth != nil {
		c.auth.Invalidate(ctx, service)
		return c.do(ctx, service, entry, target)
	}
	return status, body, nil
}

type rawResult struct {
	status int
	body   []byte
}

func (c *PollClient) do(ctx context.Context, service Service, entry ServiceEntry, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if entry.JSONHeaders {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
	}
	if entry.RequiresAuth {
		if c.auth == nil {
			return 0, nil, fmt.Errorf("%w: no authenticator configured for %s", ErrAuthentication, service)
		}
		headers, err := c.auth.Headers(ctx, service)
		if err != nil {
			return 0, nil, err
		}
		for k, v := range headers {
			req.Header[k] = v
		}
	}

	result, err := c.breakers.Execute(service, func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return rawResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%s request failed: %w", service, err)
	}

	raw := result.(rawResult)
	return raw.status, raw.body, nil
}
