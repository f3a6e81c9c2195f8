// Package dispatch decides which subscriptions are due and delivers their news digests.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsradar/pkg/radar"
)

// Store interface for subscription persistence and audit logging.
type Store interface {
	ActiveSubscriptions(ctx context.Context, channel radar.Channel, userID string) ([]*radar.Subscription, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkAttempted(ctx context.Context, id string, at time.Time) error
	AppendAuditLog(ctx context.Context, entry *radar.AuditLogEntry) error
}

// NewsSource interface for refreshing and reading a user's current news.
type NewsSource interface {
	Refresh(ctx context.Context, userID string) error
	Latest(ctx context.Context, userID string) ([]radar.NewsItem, error)
}

// Sender renders and delivers digests over one channel.
type Sender interface {
	Compose(d *radar.Digest) radar.Message
	Deliver(ctx context.Context, sub *radar.Subscription, msg radar.Message) radar.SendResult
}

// Request describes one dispatch invocation.
type Request struct {
	Now           time.Time           // Zero means time.Now()
	Channel       radar.Channel       // Which subscriptions to consider
	ExecutionType radar.ExecutionType // Recorded in the audit log
	UserID        string              // Optional: restrict to one user's subscriptions
	News          *NewsBatch          // Optional: news shared with other runs of the same tick
	Force         bool                // Skip the eligibility check
}

// NewsBatch holds each user's news for one tick, so every channel reuses a single refresh.
type NewsBatch struct {
	mu    sync.Mutex
	items map[string][]radar.NewsItem
}

// NewNewsBatch returns an empty batch.
func NewNewsBatch() *NewsBatch {
	return &NewsBatch{items: make(map[string][]radar.NewsItem)}
}

// Result aggregates the outcome of one invocation.
type Result struct {
	Channel   radar.Channel `json:"channel"`
	Errors    []string      `json:"errors"`
	Warnings  []string      `json:"warnings,omitempty"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Eligible  int           `json:"eligible"`
	NewsCount int           `json:"news_count"`
}

// Dispatcher runs eligibility checks and triggers sends for a batch of subscriptions.
type Dispatcher struct {
	store    Store
	news     NewsSource
	senders  map[radar.Channel]Sender
	locks    map[radar.Channel]*sync.Mutex
	schedule Schedule
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new dispatcher. news may be nil, in which case every digest is empty.
func New(store Store, news NewsSource, senders map[radar.Channel]Sender, schedule Schedule, logger *slog.Logger) *Dispatcher {
	locks := make(map[radar.Channel]*sync.Mutex, len(senders))
	for ch := range senders {
		locks[ch] = &sync.Mutex{}
	}
	return &Dispatcher{
		store:    store,
		news:     news,
		senders:  senders,
		locks:    locks,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule returns the eligibility rules in use.
func (d *Dispatcher) Schedule() Schedule {
	return d.schedule
}

// Run processes one invocation for a single channel.
// Per-subscription failures are reported in the result; only a failure to list subscriptions is returned as an error.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Result, error) {
	sender, ok := d.senders[req.Channel]
	if !ok {
		return nil, fmt.Errorf("no sender for channel %q", req.Channel)
	}
	if req.ExecutionType == "" {
		req.ExecutionType = radar.ExecutionManual
	}
	now := req.Now
	if now.IsZero() {
		now = d.now()
	}

	// Concurrent invocations for one channel would both see lastSent unset.
	lock := d.locks[req.Channel]
	lock.Lock()
	defer lock.Unlock()

	subs, err := d.store.ActiveSubscriptions(ctx, req.Channel, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	local := now.In(d.schedule.location())
	d.logger.Info("Checking subscriptions",
		"channel", req.Channel,
		"count", len(subs),
		"force", req.Force,
		"execution_type", req.ExecutionType,
		"local_time", local.Format("15:04"),
		"weekday", int(local.Weekday()))

	var eligible []*radar.Subscription
	for _, sub := range subs {
		if req.Force || d.schedule.Due(sub, now) {
			eligible = append(eligible, sub)
			continue
		}
		d.logger.Debug("Skipping subscription (not due)",
			"channel", req.Channel,
			"contact", sub.Contact,
			"scheduled_time", sub.ScheduledTime,
			"frequency", sub.Frequency)
	}

	res := &Result{
		Channel:  req.Channel,
		Errors:   []string{},
		Eligible: len(eligible),
		Skipped:  len(subs) - len(eligible),
	}
	if len(eligible) == 0 {
		d.logger.Info("No subscriptions due", "channel", req.Channel, "skipped", res.Skipped)
		return res, nil
	}

	// Fetch each user's news only once per invocation
	batch := req.News
	if batch == nil {
		batch = NewNewsBatch()
	}

	for _, sub := range eligible {
		select {
		case <-ctx.Done():
			d.logger.Info("Context cancelled, stopping dispatch", "channel", req.Channel, "error", ctx.Err())
			return res, ctx.Err()
		default:
		}
		d.deliver(ctx, sender, req, sub, now, batch, res)
	}

	d.logger.Info("Dispatch completed",
		"channel", req.Channel,
		"eligible", res.Eligible,
		"sent", res.Sent,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"news_count", res.NewsCount)

	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sender Sender, req Request, sub *radar.Subscription, now time.Time, batch *NewsBatch, res *Result) {
	items := d.newsFor(ctx, sub.UserID, batch, res)
	res.NewsCount += len(items)

	digest := radar.NewDigest(items, now.In(d.schedule.location()))
	msg := sender.Compose(digest)

	d.logger.Info("Sending digest",
		"channel", req.Channel,
		"contact", sub.Contact,
		"user_id", sub.UserID,
		"news_count", len(items))

	result := sender.Deliver(ctx, sub, msg)

	entry := &radar.AuditLogEntry{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Contact:        sub.Contact,
		Channel:        req.Channel,
		MessageContent: msg.Body,
		NewsCount:      len(items),
		ExecutionType:  req.ExecutionType,
		CreatedAt:      now,
	}

	if result.Success {
		entry.Status = radar.StatusSent
		res.Sent++
		if err := d.store.MarkSent(ctx, sub.ID, now); err != nil {
			d.logger.Error("Failed to update last sent", "subscription_id", sub.ID, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: update last sent: %v", sub.Contact, err))
		} else {
			sent := now
			sub.LastSent = &sent
			sub.LastAttempt = &sent
		}
		d.logger.Info("Digest sent", "channel", req.Channel, "contact", sub.Contact, "method", result.Method)
	} else {
		entry.Status = radar.StatusFailed
		entry.ErrorMessage = result.Error
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", sub.Contact, result.Error))
		d.logger.Warn("Digest send failed", "channel", req.Channel, "contact", sub.Contact, "error", result.Error)
		// No retry today: the next tick inside the window must not send again.
		if err := d.store.MarkAttempted(ctx, sub.ID, now); err != nil {
			d.logger.Error("Failed to record attempt", "subscription_id", sub.ID, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: record attempt: %v", sub.Contact, err))
		} else {
			attempted := now
			sub.LastAttempt = &attempted
		}
	}

	if err := d.store.AppendAuditLog(ctx, entry); err != nil {
		d.logger.Error("Failed to write audit log", "contact", sub.Contact, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: audit log: %v", sub.Contact, err))
	}
}

func (d *Dispatcher) newsFor(ctx context.Context, userID string, batch *NewsBatch, res *Result) []radar.NewsItem {
	batch.mu.Lock()
	defer batch.mu.Unlock()
	if items, ok := batch.items[userID]; ok {
		return items
	}
	if d.news == nil {
		batch.items[userID] = nil
		return nil
	}

	if err := d.news.Refresh(ctx, userID); err != nil {
		d.logger.Warn("News refresh failed, using cached news", "user_id", userID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("refresh news for %s: %v", userID, err))
	}

	items, err := d.news.Latest(ctx, userID)
	if err != nil {
		d.logger.Warn("Reading news failed, sending no-news digest", "user_id", userID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("read news for %s: %v", userID, err))
		items = nil
	}

	batch.items[userID] = items
	return items
}
