package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/CJhunterxv/smartwater/shared/auth"
	"github.com/CJhunterxv/smartwater/shared/config"
	"github.com/CJhunterxv/smartwater/shared/notify"
	"github.com/CJhunterxv/smartwater/shared/storage"
)

// ──────────────────────────────────────────────────────────────────────────────
// Component construction from config
// ──────────────────────────────────────────────────────────────────────────────

func openHistory(cfg *config.Config) (storage.HistoryStore, error) {
	h := cfg.History
	switch h.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "questdb":
		return storage.OpenQuestDB(storage.QuestDBConfig{
			ILPAddr: h.QuestILP,
			DSN:     h.QuestDSN,
			ThingID: cfg.Arduino.ThingID,
		})
	case "sqlite":
		return storage.OpenSQLite(h.SQLitePath)
	}
	return nil, fmt.Errorf("unknown history backend %q", h.Backend)
}

// closer collects resources released on shutdown.
type closer []func() error

func (c *closer) add(f func() error) { *c = append(*c, f) }

func (c closer) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

// newDirectory merges the static env recipients with the verified users
// table when DIRECTORY_DSN is set.
func newDirectory(cfg config.Alerts, cl *closer) (notify.Directory, error) {
	dirs := notify.MultiDirectory{notify.NewStaticDirectory(cfg.Emails, cfg.Phones)}
	if cfg.DirectoryDSN != "" {
		pg, err := notify.OpenPostgresDirectory(cfg.DirectoryDSN)
		if err != nil {
			return nil, fmt.Errorf("open recipient directory: %w", err)
		}
		cl.add(pg.Close)
		dirs = append(dirs, pg)
	}
	return dirs, nil
}

// newSenders builds the email and SMS channels. A nil sender disables that
// channel.
func newSenders(ctx context.Context, cfg config.Alerts) (notify.EmailSender, notify.SMSSender, error) {
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := notify.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var email notify.EmailSender
	switch cfg.EmailProvider {
	case "smtp":
		email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.EmailUser,
			Password: cfg.EmailPass,
			From:     cfg.EmailFrom,
		})
	case "ses":
		c, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		email = notify.NewSESSender(c, cfg.EmailFrom)
	}

	var sms notify.SMSSender
	switch cfg.SMSProvider {
	case "twilio":
		sms = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID: cfg.TwilioSID,
			AuthToken:  cfg.TwilioToken,
			From:       cfg.TwilioNumber,
		})
	case "sns":
		c, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		sms = notify.NewSNSSender(c)
	}
	return email, sms, nil
}

// newValidator returns nil when control auth is disabled. JWKS wins over a
// shared secret when both are set.
func newValidator(ctx context.Context, cfg config.Auth) (*auth.Validator, error) {
	switch {
	case cfg.JWKSURLs != "":
		return auth.NewJWKSValidator(ctx, cfg.JWKSURLs)
	case cfg.JWTSecret != "":
		return auth.NewHMACValidator(cfg.JWTSecret)
	}
	return nil, nil
}
