package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const twilioAPI = "https://api.twilio.com/2010-04-01"

// TwilioConfig holds the account credentials and sending number.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // E.164 sending number

	BaseURL    string // overridable for tests
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// TwilioSender posts to the Twilio Messages REST resource.
type TwilioSender struct {
	cfg TwilioConfig
}

func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TwilioSender{cfg: cfg}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" || s.cfg.From == "" {
		return ErrNotConfigured
	}
	form := url.Values{
		"To":   {to},
		"From": {s.cfg.From},
		"Body": {body},
	}
	u := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("twilio send to %s: status %d: %s", to, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var msg struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err == nil {
		s.cfg.Logger.Debug("sms accepted", "sid", msg.SID)
	}
	return nil
}
