package email

import "github.com/indenscale/monoco/internal/config"

// IMAPConfig holds IMAP server connection parameters for the ingress
// side of the provider.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool

	// Mailbox is the folder to poll. Default: "INBOX".
	Mailbox string
}

// SMTPConfig holds SMTP server connection parameters for the egress
// side of the provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// StartTLS selects STARTTLS (port 587 convention) over implicit
	// TLS (port 465 convention).
	StartTLS bool
}

// Configured reports whether cfg has enough to dial an SMTP server.
func (cfg SMTPConfig) Configured() bool {
	return cfg.Host != "" && cfg.Port != 0
}

// AccountConfig is this provider's single-account connection bundle,
// derived from the daemon's config.EmailProviderConfig.
type AccountConfig struct {
	IMAP        IMAPConfig
	SMTP        SMTPConfig
	DefaultFrom string
}

// FromProviderConfig adapts the daemon-level email provider config into
// the shapes this package's IMAP/SMTP plumbing expects.
func FromProviderConfig(cfg config.EmailProviderConfig) AccountConfig {
	return AccountConfig{
		IMAP: IMAPConfig{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			TLS:      cfg.IMAPTLS,
			Mailbox:  cfg.Mailbox,
		},
		SMTP: SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			StartTLS: cfg.SMTPStartTLS,
		},
		DefaultFrom: cfg.From,
	}
}

// SMTPConfigured reports whether the account has enough SMTP
// configuration to send outbound mail.
func (a AccountConfig) SMTPConfigured() bool {
	return a.SMTP.Configured() && a.SMTP.Username != ""
}
