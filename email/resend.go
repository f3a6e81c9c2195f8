package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// ResendProvider sends emails via the Resend API.
type ResendProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	from     string
	endpoint string
}

// NewResendProvider creates a new Resend email provider. from defaults to "News Radar <noreply@resend.dev>".
func NewResendProvider(apiKey, from string, logger *slog.Logger) *ResendProvider {
	if from == "" {
		from = DefaultFromName + " <noreply@resend.dev>"
	}
	return &ResendProvider{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Name implements Provider.
func (*ResendProvider) Name() string { return "resend" }

type resendSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendSendResponse struct {
	ID string `json:"id"`
}

// Send sends an email via the Resend API. It is attempted once.
func (r *ResendProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	jsonData, err := json.Marshal(resendSendRequest{
		From:    r.from,
		To:      []string{to},
		Subject: sanitizeEmailHeader(subject),
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	r.logger.Info("Resend API request starting", "to", to, "subject", subject)
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("resend HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out resendSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		r.logger.Warn("Unexpected Resend response body", "error", err)
	}
	r.logger.Info("Resend API request completed",
		"to", to,
		"id", out.ID,
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}
