package devicecloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultAPIURL = "https://api2.arduino.cc/iot"

// TokenSource supplies bearer tokens. *Credentials is the production source.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures property reads and writes for one thing.
type Config struct {
	// APIURL is the API root, without the version segment.
	APIURL  string
	ThingID string

	// ReadTimeout bounds one property-list read. Default: 10s.
	ReadTimeout time.Duration
	// WriteTimeout bounds one property publish. Default: 10s.
	WriteTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Property is one entry of a thing's property list.
type Property struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	LastValue any    `json:"last_value"`
}

// Client reads and writes the properties of a single thing.
type Client struct {
	cfg    Config
	tokens TokenSource
}

// NewClient returns a Client authenticating through tokens.
func NewClient(cfg Config, tokens TokenSource) *Client {
	cfg.applyDefaults()
	return &Client{cfg: cfg, tokens: tokens}
}

// ThingID returns the configured thing identifier.
func (c *Client) ThingID() string { return c.cfg.ThingID }

// Properties fetches the full property list of the thing.
func (c *Client) Properties(ctx context.Context) ([]Property, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/v2/things/%s/properties", c.cfg.APIURL, url.PathEscape(c.cfg.ThingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UpstreamError{Op: "read properties", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "read properties", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("read properties", resp)
	}

	var props []Property
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return nil, &UpstreamError{Op: "read properties", Err: fmt.Errorf("decode: %w", err)}
	}
	return props, nil
}

// Publish writes value to one property of the thing.
func (c *Client) Publish(ctx context.Context, propertyID string, value any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return &UpstreamError{Op: "publish property", Err: err}
	}

	u := fmt.Sprintf("%s/v2/things/%s/properties/%s/publish",
		c.cfg.APIURL, url.PathEscape(c.cfg.ThingID), url.PathEscape(propertyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return &UpstreamError{Op: "publish property", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: "publish property", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError("publish property", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// statusError builds an UpstreamError from a non-success response. A 401
// drops the cached token so the next call re-authenticates.
func (c *Client) statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
			c.cfg.Logger.Warn("device-cloud rejected token, cache invalidated", "op", op)
		}
	}
	return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
