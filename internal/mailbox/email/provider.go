package email

import (
	"context"
	"fmt"

	"github.com/indenscale/monoco/internal/mailbox"
)

// Sender implements mailbox.ProviderSender for the email provider: it
// composes a queued outbound envelope into an RFC 5322 message and
// delivers it over SMTP.
type Sender struct {
	acct AccountConfig
}

// NewSender constructs a Sender from the account's SMTP configuration.
// It is an error to register a Sender for an account that is not
// SMTPConfigured.
func NewSender(acct AccountConfig) *Sender {
	return &Sender{acct: acct}
}

// Send composes env into a MIME message and delivers it through the
// account's SMTP server. env.To is required; env.ReplyTo, when set, is
// threaded in as In-Reply-To and appended to References.
func (s *Sender) Send(ctx context.Context, env mailbox.Envelope) error {
	if !s.acct.SMTPConfigured() {
		return fmt.Errorf("email: SMTP not configured for this account")
	}
	if len(env.To) == 0 {
		return fmt.Errorf("email: outbound envelope has no recipients")
	}

	opts := ComposeOptions{
		From:    s.acct.DefaultFrom,
		To:      env.To,
		Subject: env.ThreadKey,
		Body:    env.Body,
	}
	if env.ReplyTo != "" {
		opts.InReplyTo = env.ReplyTo
		opts.References = []string{env.ReplyTo}
	}

	msg, err := ComposeMessage(opts)
	if err != nil {
		return fmt.Errorf("compose outbound message: %w", err)
	}

	recipients := collectRecipients(env.To, nil, nil)
	from := extractAddress(s.acct.DefaultFrom)
	return SendMail(ctx, s.acct.SMTP, from, recipients, msg)
}
