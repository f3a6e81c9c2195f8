package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsradar/pkg/radar"
)

// ErrNoKeywords is returned by Refresh when the user has nothing to search for.
var ErrNoKeywords = errors.New("no keywords configured")

// SettingsSource provides a user's search inputs.
type SettingsSource interface {
	Keywords(ctx context.Context, userID string) ([]string, error)
	Sources(ctx context.Context, userID string) ([]radar.Source, error)
	TwitterUsers(ctx context.Context, userID string) ([]string, error)
	SearchSettings(ctx context.Context, userID string) (*radar.SearchSettings, error)
}

// Archive keeps raw scraper output.
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Cache stores the latest parsed items per user. Get returns nil for a miss.
type Cache interface {
	Set(ctx context.Context, userID string, items []radar.NewsItem) error
	Get(ctx context.Context, userID string) ([]radar.NewsItem, error)
}

// RunLog persists the history of scraper runs made for users.
type RunLog interface {
	StartRunLog(ctx context.Context, l *radar.RunLog) error
	FinishRunLog(ctx context.Context, l *radar.RunLog) error
}

// OperationRefresh names user-triggered and scheduled refreshes in the run log.
const OperationRefresh = "refresh"

// Adapter runs the scraper for a user and keeps their latest news in the cache.
type Adapter struct {
	exec         Executor
	settings     SettingsSource
	archive      Archive // nil disables archiving
	cache        Cache
	runs         RunLog // nil disables the run log
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewAdapter creates a news source adapter.
func NewAdapter(exec Executor, settings SettingsSource, archive Archive, cache Cache, runs RunLog, pollInterval time.Duration, logger *slog.Logger) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Adapter{
		exec:         exec,
		settings:     settings,
		archive:      archive,
		cache:        cache,
		runs:         runs,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Fetch executes one scraper run and returns the parsed items.
func (a *Adapter) Fetch(ctx context.Context, p Params) ([]radar.NewsItem, error) {
	items, _, err := a.fetch(ctx, p)
	return items, err
}

func (a *Adapter) fetch(ctx context.Context, p Params) ([]radar.NewsItem, string, error) {
	runID, err := a.exec.Execute(ctx, p)
	if err != nil {
		return nil, "", fmt.Errorf("start scraper: %w", err)
	}
	a.logger.Info("Waiting for scraper run", "run_id", runID, "poll_interval", a.pollInterval.String())

	run, err := a.await(ctx, runID)
	if err != nil {
		return nil, runID, err
	}
	if run.Status == StatusError {
		return nil, runID, fmt.Errorf("scraper run %s failed: %s", runID, run.Error)
	}

	data, err := a.exec.CSV(ctx, runID)
	if err != nil {
		return nil, runID, fmt.Errorf("read scraper output: %w", err)
	}

	if a.archive != nil {
		name := fmt.Sprintf("runs/%s/%s.csv", time.Now().UTC().Format("2006-01-02"), runID)
		if err := a.archive.Put(ctx, name, data); err != nil {
			a.logger.Warn("Failed to archive scraper output", "run_id", runID, "error", err)
		}
	}

	items, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, runID, fmt.Errorf("parse scraper output: %w", err)
	}
	items = CleanItems(items)
	a.logger.Info("Scraper run parsed", "run_id", runID, "items", len(items))
	return items, runID, nil
}

func (a *Adapter) await(ctx context.Context, runID string) (*Run, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		run, err := a.exec.Status(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("scraper status: %w", err)
		}
		if run.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Params builds scraper parameters from the user's stored keywords, enabled sources and settings.
func (a *Adapter) Params(ctx context.Context, userID string) (Params, error) {
	keywords, err := a.settings.Keywords(ctx, userID)
	if err != nil {
		return Params{}, fmt.Errorf("load keywords: %w", err)
	}
	if len(keywords) == 0 {
		return Params{}, ErrNoKeywords
	}
	sources, err := a.settings.Sources(ctx, userID)
	if err != nil {
		return Params{}, fmt.Errorf("load sources: %w", err)
	}
	settings, err := a.settings.SearchSettings(ctx, userID)
	if err != nil {
		return Params{}, fmt.Errorf("load search settings: %w", err)
	}

	p := Params{Keywords: keywords}
	if settings != nil && settings.IncludeTwitter {
		users, err := a.settings.TwitterUsers(ctx, userID)
		if err != nil {
			return Params{}, fmt.Errorf("load twitter users: %w", err)
		}
		p.TwitterUsers = users
	}
	for _, s := range sources {
		if s.Enabled && s.URL != "" {
			p.Sources = append(p.Sources, s.URL)
		}
	}
	if settings != nil {
		p.ValidateLinks = settings.ValidateLinks
		p.TodayOnly = settings.TodayOnly
		p.DeepScrape = settings.DeepScrape
		p.MaxResults = settings.MaxResults
	}
	return p, nil
}

// Refresh scrapes with the user's settings and replaces their cached news.
func (a *Adapter) Refresh(ctx context.Context, userID string) error {
	p, err := a.Params(ctx, userID)
	if err != nil {
		return err
	}
	entry := a.startRunLog(ctx, userID, p)
	items, runID, err := a.fetch(ctx, p)
	if err == nil {
		if p.MaxResults > 0 && len(items) > p.MaxResults {
			items = items[:p.MaxResults]
		}
		if cerr := a.cache.Set(ctx, userID, items); cerr != nil {
			err = fmt.Errorf("cache news: %w", cerr)
		}
	}
	a.finishRunLog(ctx, entry, runID, len(items), err)
	if err != nil {
		return err
	}
	a.logger.Info("News refreshed", "user_id", userID, "items", len(items))
	return nil
}

// startRunLog returns nil when logging is disabled or the entry could not be stored.
func (a *Adapter) startRunLog(ctx context.Context, userID string, p Params) *radar.RunLog {
	if a.runs == nil {
		return nil
	}
	params, err := json.Marshal(p)
	if err != nil {
		a.logger.Warn("Failed to encode run parameters", "user_id", userID, "error", err)
	}
	entry := &radar.RunLog{
		UserID:     userID,
		Operation:  OperationRefresh,
		Parameters: params,
		Status:     radar.RunLogStarted,
		StartedAt:  time.Now(),
	}
	if err := a.runs.StartRunLog(ctx, entry); err != nil {
		a.logger.Warn("Failed to write run log", "user_id", userID, "error", err)
		return nil
	}
	return entry
}

func (a *Adapter) finishRunLog(ctx context.Context, entry *radar.RunLog, runID string, items int, runErr error) {
	if entry == nil {
		return
	}
	finished := time.Now()
	entry.RunID = runID
	entry.FinishedAt = &finished
	entry.DurationMS = finished.Sub(entry.StartedAt).Milliseconds()
	entry.ItemCount = items
	entry.Status = radar.RunLogCompleted
	if runErr != nil {
		entry.Status = radar.RunLogError
		entry.Error = runErr.Error()
		entry.ItemCount = 0
	}
	// The request context may already be cancelled; the outcome still needs recording.
	if err := a.runs.FinishRunLog(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("Failed to update run log", "log_id", entry.ID, "error", err)
	}
}

// Latest returns the user's cached news, empty when nothing has been scraped yet.
func (a *Adapter) Latest(ctx context.Context, userID string) ([]radar.NewsItem, error) {
	items, err := a.cache.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cached news: %w", err)
	}
	return items, nil
}
