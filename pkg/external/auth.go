package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ActiveDirectoryTokenURL is the Azure AD token endpoint, formatted with the tenant ID
const ActiveDirectoryTokenURL = "https://login.microsoftonline.com/%s/oauth2/token"

// ErrAuthentication is returned when a token cannot be obtained or the CIP-API
// rejects it
var ErrAuthentication = errors.New("CIP-API authentication failed")

// TokenError describes a failed token request. It matches ErrAuthentication.
type TokenError struct {
	URL    string
	Status int
	Reason string
}

func (e *TokenError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s (status %d)", ErrAuthentication, e.Reason, e.Status)
	}
	return fmt.Sprintf("%v: %s", ErrAuthentication, e.Reason)
}

func (e *TokenError) Unwrap() error { return ErrAuthentication }

// tokenExpiryMargin renews tokens slightly before they expire
const tokenExpiryMargin = time.Minute

// activeDirectorySession keys the shared Active Directory token
const activeDirectorySession = "active_directory"

type tokenSession struct {
	token   string
	expires time.Time
}

func (s *tokenSession) valid() bool {
	return s != nil && s.token != "" && time.Now().Before(s.expires)
}

// Authenticator obtains and caches the bearer tokens sent to the CIP-API. Basic
// tokens come from get-token/ on the server of the service being polled, so each
// server holds its own session.
type Authenticator struct {
	registry   *Registry
	creds      *CredentialStore
	httpClient *http.Client
	cache      *CacheClient
	logger     *logrus.Logger

	useActiveDirectory bool
	tokenURL           string
	defaultTTL         time.Duration

	mu       sync.Mutex
	sessions map[string]*tokenSession
}

// AuthenticatorConfig configures an Authenticator
type AuthenticatorConfig struct {
	UseActiveDirectory bool
	// TokenURL overrides the endpoint tokens are requested from
	TokenURL   string
	DefaultTTL time.Duration
}

// NewAuthenticator creates an authenticator. cache may be nil.
func NewAuthenticator(cfg AuthenticatorConfig, registry *Registry, creds *CredentialStore, httpClient *http.Client, cache *CacheClient, logger *logrus.Logger) (*Authenticator, error) {
	if registry == nil && cfg.TokenURL == "" && !cfg.UseActiveDirectory {
		return nil, errors.New("a registry or token URL is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 50 * time.Minute
	}

	return &Authenticator{
		registry:           registry,
		creds:              creds,
		httpClient:         httpClient,
		cache:              cache,
		logger:             logger,
		useActiveDirectory: cfg.UseActiveDirectory,
		tokenURL:           cfg.TokenURL,
		defaultTTL:         cfg.DefaultTTL,
		sessions:           make(map[string]*tokenSession),
	}, nil
}

// tokenEndpoint returns the URL a token for service is requested from. Active
// Directory tokens without an override share one session.
func (a *Authenticator) tokenEndpoint(service Service) (string, error) {
	if a.tokenURL != "" {
		return a.tokenURL, nil
	}
	if a.useActiveDirectory {
		return activeDirectorySession, nil
	}
	u, _, err := a.registry.Resolve(service, "get-token/")
	if err != nil {
		return "", err
	}
	return u, nil
}

// Headers returns the authorization header for requests to service
func (a *Authenticator) Headers(ctx context.Context, service Service) (http.Header, error) {
	token, err := a.Token(ctx, service)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "JWT "+token)
	return h, nil
}

// Token returns a valid token for service, requesting a new one when needed
func (a *Authenticator) Token(ctx context.Context, service Service) (string, error) {
	endpoint, err := a.tokenEndpoint(service)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if s := a.sessions[endpoint]; s.valid() {
		return s.token, nil
	}

	creds, err := a.creds.Get()
	if err != nil {
		return "", err
	}
	key := tokenKey(creds.Identity() + "|" + endpoint)

	if a.cache != nil {
		var cached string
		if hit, err := a.cache.GetJSON(ctx, key, &cached); err == nil && hit && cached != "" {
			s := &tokenSession{token: cached, expires: tokenExpiry(cached, a.defaultTTL)}
			if s.valid() {
				a.sessions[endpoint] = s
				return s.token, nil
			}
		}
	}

	var token string
	if a.useActiveDirectory {
		token, err = a.activeDirectoryToken(ctx, creds)
	} else {
		token, err = a.basicToken(ctx, creds, endpoint)
	}
	if err != nil {
		return "", err
	}

	s := &tokenSession{token: token, expires: tokenExpiry(token, a.defaultTTL)}
	a.sessions[endpoint] = s

	// A token already inside the expiry margin is used once but never cached
	if ttl := time.Until(s.expires); a.cache != nil && ttl > 0 {
		if err := a.cache.SetJSON(ctx, key, token, ttl); err != nil {
			a.logger.WithError(err).Warn("Failed to cache CIP-API token")
		}
	}

	a.logger.WithFields(logrus.Fields{
		"service":          service,
		"active_directory": a.useActiveDirectory,
		"expires":          s.expires.Format(time.RFC3339),
	}).Info("Obtained CIP-API token")

	return token, nil
}

// Invalidate drops the token of service so the next call fetches a new one
func (a *Authenticator) Invalidate(ctx context.Context, service Service) {
	endpoint, err := a.tokenEndpoint(service)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sessions, endpoint)
	if a.cache != nil {
		if creds, err := a.creds.Get(); err == nil {
			_ = a.cache.Delete(ctx, tokenKey(creds.Identity()+"|"+endpoint))
		}
	}
}

func (a *Authenticator) basicToken(ctx context.Context, creds *Credentials, tokenURL string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := a.doTokenRequest(req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &TokenError{URL: tokenURL, Status: http.StatusOK, Reason: "response carried no token"}
	}
	return out.Token, nil
}

func (a *Authenticator) activeDirectoryToken(ctx context.Context, creds *Credentials) (string, error) {
	tokenURL := a.tokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(ActiveDirectoryTokenURL, url.PathEscape(creds.TenantID))
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := a.doTokenRequest(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &TokenError{URL: tokenURL, Status: http.StatusOK, Reason: "response carried no access_token"}
	}
	return out.AccessToken, nil
}

func (a *Authenticator) doTokenRequest(req *http.Request, out any) error {
	target := req.URL.Redacted()

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &TokenError{URL: target, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TokenError{URL: target, Status: resp.StatusCode, Reason: "failed to read token response"}
	}
	if resp.StatusCode != http.StatusOK {
		return &TokenError{URL: target, Status: resp.StatusCode, Reason: "token endpoint rejected the request"}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TokenError{URL: target, Status: resp.StatusCode, Reason: "malformed token response"}
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT. Opaque tokens fall back to the default lifetime.
func tokenExpiry(token string, fallback time.Duration) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Add(-tokenExpiryMargin)
		}
	}
	return time.Now().Add(fallback)
}
