// Package scraper runs the external news scraper and turns its CSV output into news items.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of one scraper execution.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// Params are the command-line inputs for one scraper run.
type Params struct {
	Keywords      []string `json:"keywords"`
	Sources       []string `json:"sources"`
	TwitterUsers  []string `json:"twitter_users,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	ValidateLinks bool     `json:"validate_links"`
	TodayOnly     bool     `json:"today_only"`
	DeepScrape    bool     `json:"deep_scrape"`
}

// Run is the status of one scraper execution.
type Run struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	CSVPath    string     `json:"csv_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`
	Progress   int        `json:"progress"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// Executor starts scraper runs and reports on them. Runner executes locally, Client remotely.
type Executor interface {
	Execute(ctx context.Context, p Params) (string, error)
	Status(ctx context.Context, runID string) (*Run, error)
	CSV(ctx context.Context, runID string) ([]byte, error)
}

// ErrRunNotFound is returned for unknown or pruned run IDs.
var ErrRunNotFound = errors.New("scraper run not found")

// HTTPStatusError indicates a non-2xx response from a remote executor.
type HTTPStatusError struct {
	URL  string
	Body string
	Code int
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.URL)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.Code, e.URL, e.Body)
}

// IsHTTPStatusError checks if an error is an HTTPStatusError with the given code.
func IsHTTPStatusError(err error, code int) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.Code == code
}
