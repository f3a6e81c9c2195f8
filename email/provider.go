// Package email delivers news digests over SMTP with an optional transactional-provider fallback.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsradar/pkg/radar"
)

// Provider defines the interface for fallback email implementations.
type Provider interface {
	// Name identifies the provider in SendResult.Method.
	Name() string
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ConfigSource loads a user's SMTP settings.
type ConfigSource interface {
	EmailConfig(ctx context.Context, userID string) (*radar.EmailConfig, error)
}

// MethodSMTP is reported when the user's own SMTP server accepted the message.
const MethodSMTP = "smtp"

// DefaultFromName is used when the user has not configured a display name.
const DefaultFromName = "News Radar"

// ErrIncompleteConfig is returned by Validate when a required SMTP field is empty.
var ErrIncompleteConfig = errors.New("incomplete SMTP configuration")

// Sender renders digests as HTML email and delivers them.
type Sender struct {
	configs  ConfigSource
	dialer   Dialer
	fallback Provider // nil disables fallback
	logger   *slog.Logger
	location *time.Location
}

// New creates a new email sender. fallback may be nil.
func New(configs ConfigSource, dialer Dialer, fallback Provider, loc *time.Location, logger *slog.Logger) *Sender {
	if loc == nil {
		loc = time.UTC
	}
	return &Sender{
		configs:  configs,
		dialer:   dialer,
		fallback: fallback,
		logger:   logger,
		location: loc,
	}
}

// Validate checks that cfg has everything needed to open an SMTP session.
func Validate(cfg *radar.EmailConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: no configuration saved", ErrIncompleteConfig)
	}
	var missing []string
	if strings.TrimSpace(cfg.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		missing = append(missing, "username")
	}
	if cfg.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Compose renders the digest into a subject and HTML body.
func (s *Sender) Compose(d *radar.Digest) radar.Message {
	if d.Empty() {
		date := time.Now().In(s.location)
		if d != nil && !d.Date.IsZero() {
			date = d.Date
		}
		return radar.Message{
			Subject: "No new news - News Radar",
			Body:    formatNoNewsBody(date),
		}
	}
	return radar.Message{
		Subject: "Monitored News - News Radar",
		Body:    formatDigestBody(d),
	}
}

// Deliver sends msg to the subscription's address using the owner's SMTP settings.
// Configuration problems fail without any network I/O; SMTP failures fall back once when a provider is set.
func (s *Sender) Deliver(ctx context.Context, sub *radar.Subscription, msg radar.Message) radar.SendResult {
	cfg, err := s.configs.EmailConfig(ctx, sub.UserID)
	if err != nil {
		s.logger.Warn("Email configuration unavailable", "user_id", sub.UserID, "error", err)
		return radar.Failure(MethodSMTP, fmt.Sprintf("email configuration not found: %v", err))
	}
	return s.send(ctx, cfg, sub.Contact, msg)
}

// SendTest sends a fixed message to "to" with the user's current configuration.
func (s *Sender) SendTest(ctx context.Context, userID, to string) radar.SendResult {
	cfg, err := s.configs.EmailConfig(ctx, userID)
	if err != nil {
		return radar.Failure(MethodSMTP, fmt.Sprintf("email configuration not found: %v", err))
	}
	return s.send(ctx, cfg, to, radar.Message{
		Subject: "Email configuration test - News Radar",
		Body:    formatTestBody(cfg, time.Now().In(s.location)),
	})
}

func (s *Sender) send(ctx context.Context, cfg *radar.EmailConfig, to string, msg radar.Message) radar.SendResult {
	if err := Validate(cfg); err != nil {
		return radar.Failure(MethodSMTP, err.Error())
	}
	to = sanitizeEmailHeader(strings.TrimSpace(to))
	if !strings.Contains(to, "@") {
		return radar.Failure(MethodSMTP, fmt.Sprintf("invalid recipient address %q", to))
	}

	s.logger.Info("Sending email via SMTP",
		"to", to,
		"host", cfg.Host,
		"port", smtpPort(cfg),
		"subject", msg.Subject)

	start := time.Now()
	smtpErr := s.dialer.DialAndSend(ctx, cfg, to, msg)
	if smtpErr == nil {
		s.logger.Info("SMTP send completed", "to", to, "duration_ms", time.Since(start).Milliseconds())
		return radar.SendResult{Success: true, Method: MethodSMTP}
	}

	s.logger.Warn("SMTP send failed", "to", to, "host", cfg.Host, "error", smtpErr)
	if s.fallback == nil {
		return radar.Failure(MethodSMTP, fmt.Sprintf("SMTP error: %v", smtpErr))
	}

	method := s.fallback.Name() + "-fallback"
	s.logger.Info("Trying fallback email provider", "to", to, "provider", s.fallback.Name())
	if err := s.fallback.Send(ctx, to, msg.Subject, msg.Body); err != nil {
		s.logger.Error("Fallback email send failed", "to", to, "provider", s.fallback.Name(), "error", err)
		return radar.Failure(method, fmt.Sprintf("SMTP error: %v; fallback error: %v", smtpErr, err))
	}
	return radar.SendResult{Success: true, Method: method}
}

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
