package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Client talks to a remote executor exposing /scraper/execute, /scraper/status/:id and /scraper/csv/:id.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
	token   string
}

// NewClient creates a remote executor client. token is sent as a bearer token when set.
func NewClient(client *http.Client, baseURL, token string, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type executeResponse struct {
	ID string `json:"id"`
}

// Execute starts a remote run. It is not retried since a repeated POST would start a second run.
func (c *Client) Execute(ctx context.Context, p Params) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/scraper/execute", body)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	var resp executeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode execute response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("execute response has no run id")
	}
	return resp.ID, nil
}

// Status fetches a run's status.
func (c *Client) Status(ctx context.Context, runID string) (*Run, error) {
	data, err := c.get(ctx, "/scraper/status/"+url.PathEscape(runID))
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &run, nil
}

// CSV downloads a completed run's output.
func (c *Client) CSV(ctx context.Context, runID string) ([]byte, error) {
	return c.get(ctx, "/scraper/csv/"+url.PathEscape(runID))
}

// get retries transient failures; 4xx responses other than 429 are final.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	var lastStatus *HTTPStatusError
	err := retry.Do(
		func() error {
			data, err := c.do(ctx, http.MethodGet, path, nil)
			if err != nil {
				var se *HTTPStatusError
				if errors.As(err, &se) {
					lastStatus = se
					if se.Code < 500 && se.Code != http.StatusTooManyRequests {
						return retry.Unrecoverable(err)
					}
				}
				return err
			}
			out = data
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying executor request after error", "path", path, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		if lastStatus != nil && lastStatus.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrRunNotFound, lastStatus)
		}
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	u := c.baseURL + path
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("Executor request failed", "method", method, "url", u, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("Executor request completed",
		"method", method,
		"url", u,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
