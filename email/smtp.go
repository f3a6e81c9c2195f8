package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"newsradar/pkg/radar"
)

// Dialer opens an SMTP session with the user's server and submits one message.
type Dialer interface {
	DialAndSend(ctx context.Context, cfg *radar.EmailConfig, to string, msg radar.Message) error
}

// SMTPDialer is the go-mail backed Dialer.
type SMTPDialer struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewSMTPDialer creates a dialer whose sessions time out after timeout.
func NewSMTPDialer(timeout time.Duration, logger *slog.Logger) *SMTPDialer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPDialer{logger: logger, timeout: timeout}
}

// DialAndSend builds the MIME message and submits it.
// Port 465 uses implicit TLS; otherwise UseTLS makes STARTTLS mandatory.
func (d *SMTPDialer) DialAndSend(ctx context.Context, cfg *radar.EmailConfig, to string, msg radar.Message) error {
	m := mail.NewMsg()
	fromName := cfg.FromName
	if fromName == "" {
		fromName = DefaultFromName
	}
	if err := m.FromFormat(sanitizeEmailHeader(fromName), cfg.Username); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(sanitizeEmailHeader(msg.Subject))
	m.SetBodyString(mail.TypeTextHTML, msg.Body)

	client, err := mail.NewClient(cfg.Host, d.options(cfg)...)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}

	d.logger.Debug("SMTP dial starting", "host", cfg.Host, "port", smtpPort(cfg), "tls", cfg.UseTLS)
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send via %s:%d: %w", cfg.Host, smtpPort(cfg), err)
	}
	return nil
}

func (d *SMTPDialer) options(cfg *radar.EmailConfig) []mail.Option {
	port := smtpPort(cfg)
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(d.timeout),
	}
	switch {
	case port == 465:
		opts = append(opts, mail.WithSSL())
	case cfg.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return opts
}

func smtpPort(cfg *radar.EmailConfig) int {
	if cfg.Port <= 0 {
		return 587
	}
	return cfg.Port
}
