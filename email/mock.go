package email

import (
	"context"
	"log/slog"
	"sync"

	"newsradar/pkg/radar"
)

// MockProvider is a mock email provider for local development.
type MockProvider struct {
	logger *slog.Logger
	mu     sync.Mutex
	sent   []string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Name implements Provider.
func (*MockProvider) Name() string { return "mock" }

// Send logs the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"body_length", len(htmlBody))
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.mu.Unlock()
	return nil
}

// Sent returns the recipients of every mocked send.
func (m *MockProvider) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// MockDialer stands in for SMTP when the service runs in mock mode.
type MockDialer struct {
	Provider *MockProvider
}

// DialAndSend records the message on the mock provider.
func (d MockDialer) DialAndSend(ctx context.Context, _ *radar.EmailConfig, to string, msg radar.Message) error {
	return d.Provider.Send(ctx, to, msg.Subject, msg.Body)
}
