// Package auth obtains and caches the LS OpenAPI access token using the
// OAuth client-credentials grant.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// refreshMargin renews the token this long before its recorded expiry.
const refreshMargin = 5 * time.Minute

// Config holds token endpoint settings.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	// CachePath is an optional JSON file holding the token across runs.
	CachePath string

	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// APIError represents an error response from the token endpoint.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("token endpoint error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// TokenManager issues and caches access tokens. Safe for concurrent use.
type TokenManager struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// tokenResponse is the wire format of a successful grant.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// cachedToken is the on-disk cache format.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg Config, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	return &TokenManager{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Token returns a valid access token, reusing the in-memory or on-disk
// cache while it stays outside the refresh margin.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid() {
		return m.token, nil
	}

	if m.token == "" {
		m.loadCache()
		if m.valid() {
			m.logger.Debug("reusing cached access token", "expires_at", m.expiresAt)
			return m.token, nil
		}
	}

	token, expiresAt, err := m.fetchWithRetry(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiresAt = expiresAt
	m.saveCache()

	m.logger.Info("access token issued", "expires_at", expiresAt)

	return token, nil
}

// valid reports whether the in-memory token is usable. Caller holds mu.
func (m *TokenManager) valid() bool {
	return m.token != "" && time.Until(m.expiresAt) > refreshMargin
}

// fetchWithRetry requests a token with exponential backoff retry.
func (m *TokenManager) fetchWithRetry(ctx context.Context) (string, time.Time, error) {
	var lastErr error
	backoff := m.cfg.RetryBackoff

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			m.logger.Debug("retrying token request", "attempt", attempt, "backoff", jitter)

			select {
			case <-ctx.Done():
				return "", time.Time{}, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		token, expiresAt, err := m.fetch(ctx)
		if err == nil {
			return token, expiresAt, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return "", time.Time{}, err
		}
	}

	return "", time.Time{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// fetch performs one client-credentials grant.
func (m *TokenManager) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("appkey", m.cfg.AppKey)
	form.Set("appsecretkey", m.cfg.AppSecret)
	form.Set("scope", "oob")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", time.Time{}, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token response has no access_token")
	}

	return tr.AccessToken, time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second), nil
}

// loadCache reads the on-disk token cache. Missing or bad files are
// ignored. Caller holds mu.
func (m *TokenManager) loadCache() {
	if m.cfg.CachePath == "" {
		return
	}

	data, err := os.ReadFile(m.cfg.CachePath)
	if err != nil {
		return
	}

	var cached cachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		m.logger.Warn("ignoring unreadable token cache", "path", m.cfg.CachePath, "error", err)
		return
	}

	m.token = cached.AccessToken
	m.expiresAt = cached.ExpiresAt
}

// saveCache writes the on-disk token cache. Best effort. Caller holds mu.
func (m *TokenManager) saveCache() {
	if m.cfg.CachePath == "" {
		return
	}

	data, err := json.Marshal(cachedToken{AccessToken: m.token, ExpiresAt: m.expiresAt})
	if err != nil {
		return
	}

	if err := os.WriteFile(m.cfg.CachePath, data, 0o600); err != nil {
		m.logger.Warn("failed to write token cache", "path", m.cfg.CachePath, "error", err)
	}
}
