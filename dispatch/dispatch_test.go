package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"newsradar/pkg/radar"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memStore struct {
	mu      sync.Mutex
	subs    []*radar.Subscription
	audit   []*radar.AuditLogEntry
	marked    map[string]time.Time
	attempted map[string]time.Time
	listErr   error
	markErr error
	logErr  error
}

func (m *memStore) ActiveSubscriptions(_ context.Context, channel radar.Channel, userID string) ([]*radar.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*radar.Subscription
	for _, s := range m.subs {
		if s.Channel != channel || !s.IsActive {
			continue
		}
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if m.marked == nil {
		m.marked = make(map[string]time.Time)
	}
	m.marked[id] = at
	return nil
}

func (m *memStore) MarkAttempted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if m.attempted == nil {
		m.attempted = make(map[string]time.Time)
	}
	m.attempted[id] = at
	return nil
}

func (m *memStore) AppendAuditLog(_ context.Context, entry *radar.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	m.audit = append(m.audit, entry)
	return nil
}

type fakeNews struct {
	items      map[string][]radar.NewsItem
	refreshErr error
	latestErr  error
	refreshes  map[string]int
}

func (f *fakeNews) Refresh(_ context.Context, userID string) error {
	if f.refreshes == nil {
		f.refreshes = make(map[string]int)
	}
	f.refreshes[userID]++
	return f.refreshErr
}

func (f *fakeNews) Latest(_ context.Context, userID string) ([]radar.NewsItem, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.items[userID], nil
}

type fakeSender struct {
	fail     map[string]string // contact -> error
	digests  []*radar.Digest
	contacts []string
}

func (f *fakeSender) Compose(d *radar.Digest) radar.Message {
	f.digests = append(f.digests, d)
	if d.Empty() {
		return radar.Message{Subject: "no news", Body: "no news today"}
	}
	return radar.Message{Subject: "digest", Body: fmt.Sprintf("%d of %d", len(d.Items), d.Total)}
}

func (f *fakeSender) Deliver(_ context.Context, sub *radar.Subscription, _ radar.Message) radar.SendResult {
	f.contacts = append(f.contacts, sub.Contact)
	if msg, ok := f.fail[sub.Contact]; ok {
		return radar.Failure("fake", msg)
	}
	return radar.SendResult{Success: true, Method: "fake", MessageID: "id-" + sub.Contact}
}

func daily(id, user, contact string) *radar.Subscription {
	return &radar.Subscription{
		ID:            id,
		UserID:        user,
		Channel:       radar.ChannelEmail,
		Contact:       contact,
		ScheduledTime: "08:00",
		Frequency:     radar.FrequencyDaily,
		IsActive:      true,
	}
}

func newsItems(n int) []radar.NewsItem {
	items := make([]radar.NewsItem, n)
	for i := range items {
		items[i] = radar.NewsItem{
			ID:        fmt.Sprintf("n%d", i),
			Title:     fmt.Sprintf("Title %d", i),
			SourceURL: fmt.Sprintf("https://example.com/%d", i),
		}
	}
	return items
}

var monday8 = time.Date(2024, 1, 1, 8, 0, 0, 0, art)

func newTestDispatcher(store Store, news NewsSource, sender Sender) *Dispatcher {
	return New(store, news, map[radar.Channel]Sender{radar.ChannelEmail: sender}, NewSchedule(art, 0), testLogger())
}

func TestRunSendsDueSubscriptions(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{
		daily("s1", "u1", "a@example.com"),
		daily("s2", "u1", "b@example.com"),
	}}
	news := &fakeNews{items: map[string][]radar.NewsItem{"u1": newsItems(3)}}
	sender := &fakeSender{}
	d := newTestDispatcher(store, news, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 2 || res.Failed != 0 || res.Eligible != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.NewsCount != 6 {
		t.Errorf("NewsCount = %d, want 6", res.NewsCount)
	}
	if news.refreshes["u1"] != 1 {
		t.Errorf("expected one refresh per user, got %d", news.refreshes["u1"])
	}
	if len(store.marked) != 2 || !store.marked["s1"].Equal(monday8) {
		t.Errorf("expected both subscriptions marked at %v, got %v", monday8, store.marked)
	}
	if len(store.audit) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(store.audit))
	}
	for _, e := range store.audit {
		if e.Status != radar.StatusSent || e.ExecutionType != radar.ExecutionManual || e.NewsCount != 3 {
			t.Errorf("unexpected audit entry: %+v", e)
		}
		if e.MessageContent != "3 of 3" {
			t.Errorf("MessageContent = %q", e.MessageContent)
		}
	}

	// A second run the same day sends nothing.
	res, err = d.Run(context.Background(), Request{Now: monday8.Add(30 * time.Second), Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.Sent != 0 || res.Skipped != 2 {
		t.Errorf("second run result: %+v", res)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{
		daily("s1", "u1", "bad@example.com"),
		daily("s2", "u2", "good@example.com"),
	}}
	sender := &fakeSender{fail: map[string]string{"bad@example.com": "smtp: connection refused"}}
	d := newTestDispatcher(store, &fakeNews{}, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail, ExecutionType: radar.ExecutionScheduled})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "bad@example.com: smtp: connection refused" {
		t.Errorf("Errors = %v", res.Errors)
	}
	if _, ok := store.marked["s1"]; ok {
		t.Error("failed subscription must keep its lastSent")
	}
	if store.subs[0].LastSent != nil {
		t.Error("failed subscription LastSent changed in memory")
	}
	if !store.attempted["s1"].Equal(monday8) {
		t.Errorf("failed attempt not recorded: %v", store.attempted)
	}
	if _, ok := store.marked["s2"]; !ok {
		t.Error("second subscription was not marked sent")
	}
	if len(store.audit) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(store.audit))
	}
	failed := store.audit[0]
	if failed.Status != radar.StatusFailed || failed.ErrorMessage != "smtp: connection refused" || failed.ExecutionType != radar.ExecutionScheduled {
		t.Errorf("unexpected failed audit entry: %+v", failed)
	}
}

func TestRunNoneDue(t *testing.T) {
	sub := daily("s1", "u1", "a@example.com")
	sub.ScheduledTime = "09:00"
	store := &memStore{subs: []*radar.Subscription{sub}}
	sender := &fakeSender{}
	news := &fakeNews{}
	d := newTestDispatcher(store, news, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Skipped != 1 || res.Sent != 0 || res.Eligible != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sender.contacts) != 0 || len(news.refreshes) != 0 {
		t.Error("nothing should be fetched or sent when no subscription is due")
	}
}

func TestRunForceIgnoresSchedule(t *testing.T) {
	sub := daily("s1", "u1", "a@example.com")
	sub.ScheduledTime = "23:00"
	sent := monday8.Add(-time.Hour)
	sub.LastSent = &sent
	store := &memStore{subs: []*radar.Subscription{sub}}
	sender := &fakeSender{}
	d := newTestDispatcher(store, nil, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail, Force: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("forced run should send, got %+v", res)
	}
}

func TestRunFiltersByUser(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{
		daily("s1", "u1", "a@example.com"),
		daily("s2", "u2", "b@example.com"),
	}}
	sender := &fakeSender{}
	d := newTestDispatcher(store, nil, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail, UserID: "u2", Force: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 1 || len(sender.contacts) != 1 || sender.contacts[0] != "b@example.com" {
		t.Errorf("expected only u2's subscription, got %+v %v", res, sender.contacts)
	}
}

func TestRunNewsFailureSendsNoNewsDigest(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{daily("s1", "u1", "a@example.com")}}
	news := &fakeNews{
		refreshErr: errors.New("scraper unavailable"),
		latestErr:  errors.New("cache down"),
	}
	sender := &fakeSender{}
	d := newTestDispatcher(store, news, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("no-news digest should still be sent: %+v", res)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", res.Warnings)
	}
	if len(sender.digests) != 1 || !sender.digests[0].Empty() {
		t.Error("expected an empty digest")
	}
	if store.audit[0].NewsCount != 0 || store.audit[0].MessageContent != "no news today" {
		t.Errorf("unexpected audit entry: %+v", store.audit[0])
	}
}

func TestRunCapsDigest(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{daily("s1", "u1", "a@example.com")}}
	news := &fakeNews{items: map[string][]radar.NewsItem{"u1": newsItems(25)}}
	sender := &fakeSender{}
	d := newTestDispatcher(store, news, sender)

	res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	dg := sender.digests[0]
	if len(dg.Items) != radar.MaxDigestItems || dg.Total != 25 {
		t.Errorf("digest has %d items of %d", len(dg.Items), dg.Total)
	}
	if res.NewsCount != 25 {
		t.Errorf("NewsCount = %d, want 25", res.NewsCount)
	}
}

func TestRunStoreErrors(t *testing.T) {
	t.Run("list failure is returned", func(t *testing.T) {
		store := &memStore{listErr: errors.New("db down")}
		d := newTestDispatcher(store, nil, &fakeSender{})
		if _, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("audit and mark failures become warnings", func(t *testing.T) {
		store := &memStore{
			subs:    []*radar.Subscription{daily("s1", "u1", "a@example.com")},
			markErr: errors.New("update failed"),
			logErr:  errors.New("insert failed"),
		}
		d := newTestDispatcher(store, nil, &fakeSender{})
		res, err := d.Run(context.Background(), Request{Now: monday8, Channel: radar.ChannelEmail})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Sent != 1 || len(res.Warnings) != 2 {
			t.Errorf("unexpected result: %+v", res)
		}
		for _, w := range res.Warnings {
			if !strings.HasPrefix(w, "a@example.com: ") {
				t.Errorf("warning %q not prefixed with contact", w)
			}
		}
	})
}

func TestRunUnknownChannel(t *testing.T) {
	d := newTestDispatcher(&memStore{}, nil, &fakeSender{})
	if _, err := d.Run(context.Background(), Request{Channel: radar.ChannelWhatsApp}); err == nil {
		t.Fatal("expected error for channel without sender")
	}
}

func TestRunCancelled(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{
		daily("s1", "u1", "a@example.com"),
		daily("s2", "u1", "b@example.com"),
	}}
	d := newTestDispatcher(store, nil, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Run(ctx, Request{Now: monday8, Channel: radar.ChannelEmail})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.Sent != 0 || res.Eligible != 2 {
		t.Errorf("unexpected partial result: %+v", res)
	}
}

func TestRunDoesNotRetryFailedSendWithinWindow(t *testing.T) {
	store := &memStore{subs: []*radar.Subscription{daily("s1", "u1", "bad@example.com")}}
	news := &fakeNews{}
	sender := &fakeSender{fail: map[string]string{"bad@example.com": "smtp: connection refused"}}
	d := New(store, news, map[radar.Channel]Sender{radar.ChannelEmail: sender}, NewSchedule(art, DefaultTolerance), testLogger())

	for i := 0; i < 12; i++ {
		now := monday8.Add(time.Duration(i) * time.Minute)
		if _, err := d.Run(context.Background(), Request{Now: now, Channel: radar.ChannelEmail, ExecutionType: radar.ExecutionScheduled}); err != nil {
			t.Fatalf("Run(%s) error = %v", now.Format("15:04"), err)
		}
	}
	if len(sender.contacts) != 1 {
		t.Errorf("deliver attempts = %d, want 1", len(sender.contacts))
	}
	if len(store.audit) != 1 {
		t.Errorf("audit rows = %d, want 1", len(store.audit))
	}
	if news.refreshes["u1"] != 1 {
		t.Errorf("refreshes = %d, want 1", news.refreshes["u1"])
	}

	// The next day is a fresh opportunity.
	res, err := d.Run(context.Background(), Request{Now: monday8.Add(24 * time.Hour), Channel: radar.ChannelEmail})
	if err != nil {
		t.Fatalf("Run() next day error = %v", err)
	}
	if res.Eligible != 1 {
		t.Errorf("next day eligible = %d, want 1", res.Eligible)
	}
}

func TestRunSharesNewsBatchAcrossChannels(t *testing.T) {
	wa := daily("s2", "u1", "5491112345678")
	wa.Channel = radar.ChannelWhatsApp
	store := &memStore{subs: []*radar.Subscription{daily("s1", "u1", "a@example.com"), wa}}
	news := &fakeNews{items: map[string][]radar.NewsItem{"u1": newsItems(2)}}
	d := New(store, news, map[radar.Channel]Sender{
		radar.ChannelEmail:    &fakeSender{},
		radar.ChannelWhatsApp: &fakeSender{},
	}, NewSchedule(art, 0), testLogger())

	batch := NewNewsBatch()
	for _, ch := range []radar.Channel{radar.ChannelEmail, radar.ChannelWhatsApp} {
		res, err := d.Run(context.Background(), Request{Now: monday8, Channel: ch, News: batch})
		if err != nil {
			t.Fatalf("Run(%s) error = %v", ch, err)
		}
		if res.Sent != 1 || res.NewsCount != 2 {
			t.Errorf("Run(%s) = %+v", ch, res)
		}
	}
	if news.refreshes["u1"] != 1 {
		t.Errorf("refreshes = %d, want 1 for both channels", news.refreshes["u1"])
	}
}
