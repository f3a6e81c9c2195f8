package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailProvider sends emails via Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a Gmail provider from service-account or OAuth credentials JSON.
// Empty credentials fall back to Application Default Credentials.
func NewGmailProvider(ctx context.Context, credentialsJSON []byte, logger *slog.Logger) (*GmailProvider, error) {
	opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailProvider{service: svc, logger: logger}, nil
}

// Name implements Provider.
func (*GmailProvider) Name() string { return "gmail" }

// Send sends an email via Gmail API. It is attempted once.
func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	encoded := encodeRawMessage(to, subject, htmlBody)

	g.logger.Info("Gmail API request starting",
		"method", "POST",
		"endpoint", "users.messages.send",
		"to", to,
		"subject", subject)

	startTime := time.Now()
	sent, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"to", to,
		"id", sent.Id,
		"duration_ms", duration.Milliseconds())
	return nil
}

// encodeRawMessage builds the base64url MIME message users.messages.send expects.
// The From address is set by Gmail based on the authenticated account.
func encodeRawMessage(to, subject, htmlBody string) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeEmailHeader(to)))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeEmailHeader(subject)))
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(htmlBody)
	return base64.URLEncoding.EncodeToString([]byte(msg.String()))
}
