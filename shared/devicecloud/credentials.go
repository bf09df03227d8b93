// Package devicecloud talks to the Arduino IoT Cloud REST API: OAuth
// client-credentials tokens, property reads for a thing, and property
// publishes for actuator writes.
package devicecloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://api2.arduino.cc/iot/v1/clients/token"
	DefaultAudience = "https://api2.arduino.cc/iot"

	// Skew is subtracted from the token expiry before it is considered stale.
	Skew = 60 * time.Second
)

// CredentialsConfig configures the client-credentials exchange.
type CredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string

	// Timeout bounds one exchange. Default: 10s.
	Timeout time.Duration

	HTTPClient *http.Client
	// Now is the clock used for expiry. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *CredentialsConfig) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// credential is replaced as a whole; token and expiry never change separately.
type credential struct {
	token     string
	expiresAt time.Time
}

// Credentials is a lazily refreshed bearer-token cache shared by every
// device-cloud caller in the process. Concurrent callers that find the token
// stale share a single in-flight exchange.
type Credentials struct {
	cfg CredentialsConfig

	mu  sync.Mutex
	cur credential

	flight singleflight.Group
}

// NewCredentials returns an empty cache. The first Token call performs the
// exchange.
func NewCredentials(cfg CredentialsConfig) *Credentials {
	cfg.applyDefaults()
	return &Credentials{cfg: cfg}
}

// Token returns a bearer token valid for at least Skew more seconds.
// It returns *AuthError when a required exchange fails.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	v, err, _ := c.flight.Do("token", func() (interface{}, error) {
		// Another flight may have finished between cached() and Do.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		// The exchange is shared, so one caller's cancellation must not fail
		// the others; the timeout still bounds it.
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.exchange(exCtx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call refreshes it.
// Called when the device-cloud rejects a token before its advertised expiry.
func (c *Credentials) Invalidate() {
	c.mu.Lock()
	c.cur = credential{}
	c.mu.Unlock()
}

func (c *Credentials) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.token != "" && c.cfg.Now().Before(c.cur.expiresAt.Add(-Skew)) {
		return c.cur.token, true
	}
	return "", false
}

func (c *Credentials) exchange(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"audience":      {c.cfg.Audience},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issuedAt := c.cfg.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("token response has no access_token")}
	}

	next := credential{
		token:     tok.AccessToken,
		expiresAt: issuedAt.Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	c.mu.Lock()
	c.cur = next
	c.mu.Unlock()

	c.cfg.Logger.Info("device-cloud token refreshed", "expires_at", next.expiresAt.UTC().Format(time.RFC3339))
	return next.token, nil
}
