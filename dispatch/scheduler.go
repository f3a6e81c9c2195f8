package dispatch

import (
	"context"
	"log/slog"
	"time"

	"newsradar/pkg/radar"
)

// Runner is the subset of Dispatcher used by the scheduler.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Scheduler triggers scheduled dispatches for every channel on a fixed interval.
type Scheduler struct {
	runner   Runner
	logger   *slog.Logger
	channels []radar.Channel
	interval time.Duration
}

// NewScheduler creates a scheduler that ticks every interval.
func NewScheduler(runner Runner, channels []radar.Channel, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		channels: channels,
		interval: interval,
		logger:   logger,
	}
}

// Start blocks, ticking until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "interval", s.interval.String(), "channels", s.channels)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick runs one scheduled dispatch per channel. A failing channel does not prevent the others.
// Channels share one NewsBatch, so a user due on several channels is scraped once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []*Result {
	results := make([]*Result, 0, len(s.channels))
	batch := NewNewsBatch()
	for _, ch := range s.channels {
		res, err := s.runner.Run(ctx, Request{
			Now:           now,
			Channel:       ch,
			ExecutionType: radar.ExecutionScheduled,
			News:          batch,
		})
		if err != nil {
			s.logger.Error("Scheduled dispatch failed", "channel", ch, "error", err)
			if res == nil {
				res = &Result{Channel: ch}
			}
			res.Errors = append(res.Errors, err.Error())
		}
		results = append(results, res)
	}
	return results
}
