// Package notify holds the outbound notification channels (email, SMS) and
// the recipient directory the alert dispatcher fans out over.
package notify

import (
	"context"
	"errors"
	"strings"
)

// Recipient is one entry of the user directory. Only verified recipients
// receive alerts.
type Recipient struct {
	Email    string
	Phone    string
	Verified bool
}

// EmailSender delivers one email to one recipient.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers one text message to one phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Directory lists alert recipients. Implementations may return unverified
// entries; filtering happens in the dispatcher.
type Directory interface {
	VerifiedRecipients(ctx context.Context) ([]Recipient, error)
}

// ErrNotConfigured is returned by senders missing required credentials.
var ErrNotConfigured = errors.New("notify: channel not configured")

// StaticDirectory is a fixed recipient list, typically from ALERT_EMAILS and
// ALERT_PHONES.
type StaticDirectory []Recipient

func (d StaticDirectory) VerifiedRecipients(context.Context) ([]Recipient, error) {
	out := make([]Recipient, len(d))
	copy(out, d)
	return out, nil
}

// NewStaticDirectory builds verified recipients from address and phone
// lists. Emails and phones are independent entries.
func NewStaticDirectory(emails, phones []string) StaticDirectory {
	var d StaticDirectory
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			d = append(d, Recipient{Email: e, Verified: true})
		}
	}
	for _, p := range phones {
		if p = strings.TrimSpace(p); p != "" {
			d = append(d, Recipient{Phone: p, Verified: true})
		}
	}
	return d
}

// MultiDirectory merges several directories, dropping duplicate addresses
// and numbers. A failing member fails the lookup: partial recipient lists
// are returned alongside the error.
type MultiDirectory []Directory

func (m MultiDirectory) VerifiedRecipients(ctx context.Context) ([]Recipient, error) {
	var (
		out    []Recipient
		errs   []error
		emails = map[string]bool{}
		phones = map[string]bool{}
	)
	for _, d := range m {
		recs, err := d.VerifiedRecipients(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range recs {
			email := strings.ToLower(r.Email)
			if email != "" && emails[email] {
				r.Email = ""
			}
			if r.Phone != "" && phones[r.Phone] {
				r.Phone = ""
			}
			if r.Email == "" && r.Phone == "" {
				continue
			}
			if r.Email != "" {
				emails[email] = true
			}
			if r.Phone != "" {
				phones[r.Phone] = true
			}
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}
