// Package dashboard is the viewer-side half of SmartWater: an HTTP client for
// the monitor service and a Session that drives the live polling loop, the
// chart window, the distance gauge and optimistic pump/buzzer toggles.
//
// Usage:
//
//	c := dashboard.NewClient(dashboard.ClientConfig{BaseURL: "http://localhost:8080"})
//	s := dashboard.NewSession(dashboard.SessionConfig{API: c, OnChange: render})
//	s.Start()
//	defer s.Close()
//	s.TogglePump(ctx)
package dashboard

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

	"github.com/gorilla/websocket"

	"github.com/CJhunterxv/smartwater/shared/device"
)

// ─────────────────────────────────────────────────────────────────────────────
// Wire types
// ─────────────────────────────────────────────────────────────────────────────

// Status is the data object of GET /status.
type Status struct {
	PumpState      bool    `json:"pumpState"`
	BuzzerState    bool    `json:"buzzerState"`
	WaterDetected  bool    `json:"waterDetected"`
	DistanceCM     float64 `json:"distanceCM"`
	ManualOverride bool    `json:"manualOverride"`
	LastUpdate     string  `json:"lastUpdate"`
	LastAlert      *string `json:"lastAlert"`
}

// Historical is the GET /historical-data response, flattened.
type Historical struct {
	Labels   []string
	Distance []float64
	Water    []int
}

// Alert is the payload of an "alert" live message.
type Alert struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	DistanceCM float64   `json:"distanceCM"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
}

// LiveMessage is one websocket frame from /ws. Exactly one of State and
// Alert is set.
type LiveMessage struct {
	Type  string
	State *Status
	Alert *Alert
}

// APIError is a non-ok monitor response.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dashboard: %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("dashboard: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// API is what a Session needs from the monitor.
type API interface {
	Status(ctx context.Context) (Status, error)
	Historical(ctx context.Context, rng string) (Historical, error)
	SetActuator(ctx context.Context, which device.Actuator, on bool) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Client
// ─────────────────────────────────────────────────────────────────────────────

// ClientConfig configures a monitor client.
type ClientConfig struct {
	// BaseURL of the monitor service. Default: "http://localhost:8080".
	BaseURL string

	// Token is sent as a Bearer token on control requests when set.
	Token string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// Logger for client-internal messages. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to one monitor instance.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{cfg: cfg}
}

var _ API = (*Client)(nil)

// Status triggers one server-side poll and returns its result.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out struct {
		Data Status `json:"data"`
	}
	if err := c.do(ctx, "status", http.MethodGet, "/status", nil, &out); err != nil {
		return Status{}, err
	}
	return out.Data, nil
}

// Historical fetches the stored series for "month" or "6months".
func (c *Client) Historical(ctx context.Context, rng string) (Historical, error) {
	var out struct {
		Labels   []string `json:"labels"`
		Datasets struct {
			Distance []float64 `json:"distance"`
			Water    []int     `json:"water"`
		} `json:"datasets"`
	}
	path := "/historical-data?" + url.Values{"range": {rng}}.Encode()
	if err := c.do(ctx, "historical", http.MethodGet, path, nil, &out); err != nil {
		return Historical{}, err
	}
	return Historical{Labels: out.Labels, Distance: out.Datasets.Distance, Water: out.Datasets.Water}, nil
}

// SetActuator switches the pump or buzzer.
func (c *Client) SetActuator(ctx context.Context, which device.Actuator, on bool) error {
	body, _ := json.Marshal(map[string]bool{"on": on})
	return c.do(ctx, "control "+string(which), http.MethodPost, "/control/"+string(which), body, nil)
}

// DownloadLogs streams the server's CSV poll log into w.
func (c *Client) DownloadLogs(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/download-logs", nil)
	if err != nil {
		return err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "download logs", StatusCode: resp.StatusCode}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Subscribe opens the /ws live feed. The returned channel is closed when ctx
// is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan LiveMessage, error) {
	wsURL := "ws" + strings.TrimPrefix(c.cfg.BaseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard: dial %s: %w", wsURL, err)
	}

	ch := make(chan LiveMessage, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		for {
			var frame struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() == nil {
					c.cfg.Logger.Warn("live feed closed", "err", err)
				}
				return
			}
			msg := LiveMessage{Type: frame.Type}
			var decodeErr error
			switch frame.Type {
			case "state":
				msg.State = &Status{}
				decodeErr = json.Unmarshal(frame.Payload, msg.State)
			case "alert":
				msg.Alert = &Alert{}
				decodeErr = json.Unmarshal(frame.Payload, msg.Alert)
			default:
				continue
			}
			if decodeErr != nil {
				c.cfg.Logger.Warn("bad live frame", "type", frame.Type, "err", decodeErr)
				continue
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// do sends a request and decodes the {ok, message, ...} envelope. out may be
// nil.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var env struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || resp.StatusCode != http.StatusOK || !env.OK {
		msg := env.Message
		if msg == "" && err != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dashboard: %s: decode: %w", op, err)
	}
	return nil
}
