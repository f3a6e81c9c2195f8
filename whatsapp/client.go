// Package whatsapp delivers news digests through an Evolution API WhatsApp gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"newsradar/pkg/radar"
)

// DefaultInstance is the Evolution API instance messages are sent through.
const DefaultInstance = "SenadoN8N"

// MethodEvolution identifies gateway sends in SendResult.Method.
const MethodEvolution = "evolution"

// Gateway sends one text message to a normalized number.
type Gateway interface {
	SendText(ctx context.Context, cfg *radar.WhatsAppConfig, number, text string) radar.SendResult
}

// Client is an Evolution API Gateway.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	instance   string
	timeout    time.Duration
}

// NewClient creates a gateway client. Each endpoint attempt is bounded by timeout.
func NewClient(instance string, timeout time.Duration, logger *slog.Logger) *Client {
	if instance == "" {
		instance = DefaultInstance
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
		instance:   instance,
		timeout:    timeout,
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

func (r *sendTextResponse) messageID() string {
	switch {
	case r.Key.ID != "":
		return r.Key.ID
	case r.MessageID != "":
		return r.MessageID
	default:
		return r.ID
	}
}

// endpoints lists the send paths tried in order; gateway versions disagree on the route.
func (c *Client) endpoints(baseURL string) []string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return []string{
		base + "/message/sendText/" + c.instance,
		base + "/message/send-text/" + c.instance,
		base + "/send-message/" + c.instance,
	}
}

// SendText posts text to number, moving to the next endpoint on 404 or a network error.
func (c *Client) SendText(ctx context.Context, cfg *radar.WhatsAppConfig, number, text string) radar.SendResult {
	payload, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return radar.Failure(MethodEvolution, fmt.Sprintf("marshal request: %v", err))
	}

	urls := c.endpoints(cfg.BaseURL)
	for i, u := range urls {
		last := i == len(urls)-1
		status, body, err := c.post(ctx, cfg.APIKey, u, payload)
		if err != nil {
			c.logger.Warn("Evolution API request failed", "url", u, "error", err)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return radar.Failure(MethodEvolution, fmt.Sprintf("connection timeout (%s)", c.timeout))
			}
			if ctx.Err() != nil {
				return radar.Failure(MethodEvolution, fmt.Sprintf("connection error: %v", ctx.Err()))
			}
			if last {
				return radar.Failure(MethodEvolution, fmt.Sprintf("connection error: %v", err))
			}
			continue
		}

		c.logger.Info("Evolution API response", "url", u, "status_code", status)
		switch {
		case status == http.StatusNotFound:
			continue
		case status == http.StatusBadRequest:
			return radar.Failure(MethodEvolution, fmt.Sprintf("invalid message or number: %s", body))
		case status < 200 || status >= 300:
			return radar.Failure(MethodEvolution, fmt.Sprintf("Evolution API error: %d - %s", status, body))
		}

		var resp sendTextResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.logger.Warn("Unexpected Evolution API response body", "url", u, "error", err)
		}
		return radar.SendResult{Success: true, Method: MethodEvolution, MessageID: resp.messageID()}
	}
	return radar.Failure(MethodEvolution, "no Evolution API endpoint accepted the request")
}

func (c *Client) post(ctx context.Context, apiKey, url string, payload []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, bytes.TrimSpace(body), nil
}

// MockGateway logs messages instead of sending them.
type MockGateway struct {
	logger *slog.Logger
}

// NewMockGateway creates a gateway for local development.
func NewMockGateway(logger *slog.Logger) *MockGateway {
	return &MockGateway{logger: logger}
}

// SendText implements Gateway.
func (m *MockGateway) SendText(_ context.Context, _ *radar.WhatsAppConfig, number, text string) radar.SendResult {
	m.logger.Info("MOCK WHATSAPP", "number", number, "length", len(text))
	return radar.SendResult{Success: true, Method: "mock", MessageID: fmt.Sprintf("sim_%d", time.Now().UnixMilli())}
}
