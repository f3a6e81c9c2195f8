package dispatch

import (
	"testing"
	"time"

	"newsradar/pkg/radar"
)

var art = time.FixedZone("ART", -3*60*60)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func ptr(t time.Time) *time.Time { return &t }

func TestScheduleDueExactMinute(t *testing.T) {
	sched := NewSchedule(art, 0)
	// 2024-01-01 is a Monday.
	now := at(t, "2024-01-01T08:00:00-03:00")

	tests := []struct {
		name string
		sub  radar.Subscription
		now  time.Time
		want bool
	}{
		{
			name: "daily at scheduled minute",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  now,
			want: true,
		},
		{
			name: "daily with seconds in stored time",
			sub:  radar.Subscription{ScheduledTime: "08:00:00", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  now.Add(59 * time.Second),
			want: true,
		},
		{
			name: "one minute late without tolerance",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  now.Add(time.Minute),
			want: false,
		},
		{
			name: "before scheduled minute",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  now.Add(-time.Second),
			want: false,
		},
		{
			name: "already sent earlier today",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true, LastSent: ptr(at(t, "2024-01-01T00:05:00-03:00"))},
			now:  now,
			want: false,
		},
		{
			name: "sent yesterday",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true, LastSent: ptr(at(t, "2023-12-31T08:00:00-03:00"))},
			now:  now,
			want: true,
		},
		{
			name: "failed attempt earlier today",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true, LastAttempt: ptr(at(t, "2024-01-01T07:59:00-03:00"))},
			now:  now,
			want: false,
		},
		{
			name: "failed attempt yesterday",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true, LastAttempt: ptr(at(t, "2023-12-31T08:00:00-03:00"))},
			now:  now,
			want: true,
		},
		{
			name: "last sent stored in UTC is compared in local time",
			// 2024-01-01T02:00Z is still Dec 31 in Argentina.
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true, LastSent: ptr(at(t, "2024-01-01T02:00:00Z"))},
			now:  now,
			want: true,
		},
		{
			name: "weekly on listed day",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyWeekly, Weekdays: []int{1, 3}, IsActive: true},
			now:  now,
			want: true,
		},
		{
			name: "weekly on unlisted day",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyWeekly, Weekdays: []int{0, 6}, IsActive: true},
			now:  now,
			want: false,
		},
		{
			name: "weekly with no days",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyWeekly, IsActive: true},
			now:  now,
			want: false,
		},
		{
			name: "weekly on listed day but sent today",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyWeekly, Weekdays: []int{1}, IsActive: true, LastSent: ptr(now.Add(-time.Hour))},
			now:  now,
			want: false,
		},
		{
			name: "unknown frequency",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: "monthly", IsActive: true},
			now:  now,
			want: false,
		},
		{
			name: "inactive",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily},
			now:  now,
			want: false,
		},
		{
			name: "unparsable time",
			sub:  radar.Subscription{ScheduledTime: "8am", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  now,
			want: false,
		},
		{
			name: "now given in UTC is converted",
			sub:  radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true},
			now:  at(t, "2024-01-01T11:00:30Z"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			if got := sched.Due(&sub, tt.now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleDueToleranceWindow(t *testing.T) {
	sched := NewSchedule(art, DefaultTolerance)
	sub := &radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true}

	tests := []struct {
		now  string
		want bool
	}{
		{"2024-01-01T07:59:59-03:00", false},
		{"2024-01-01T08:00:00-03:00", true},
		{"2024-01-01T08:03:00-03:00", true},
		{"2024-01-01T08:09:59-03:00", true},
		{"2024-01-01T08:10:00-03:00", false},
		{"2024-01-01T20:00:00-03:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			if got := sched.Due(sub, at(t, tt.now)); got != tt.want {
				t.Errorf("Due(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

// A poll every three minutes must not skip a day when the tolerance covers the gap.
func TestScheduleCoarsePollDoesNotSkip(t *testing.T) {
	sched := NewSchedule(art, DefaultTolerance)
	sub := &radar.Subscription{ScheduledTime: "08:01", Frequency: radar.FrequencyDaily, IsActive: true}

	start := at(t, "2024-01-01T07:59:00-03:00")
	fired := 0
	for i := 0; i < 10; i++ {
		now := start.Add(time.Duration(i*3) * time.Minute)
		if sched.Due(sub, now) {
			fired++
			sub.LastSent = ptr(now)
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one send, got %d", fired)
	}
}

func TestScheduleAtMostOncePerDay(t *testing.T) {
	sched := NewSchedule(art, 0)
	now := at(t, "2024-01-01T08:00:00-03:00")
	sub := &radar.Subscription{ScheduledTime: "08:00", Frequency: radar.FrequencyDaily, IsActive: true}

	if !sched.Due(sub, now) {
		t.Fatal("expected first check to be due")
	}
	sub.LastSent = ptr(now)
	if sched.Due(sub, now) {
		t.Fatal("expected second check on the same day to be not due")
	}
	if !sched.Due(sub, now.Add(24*time.Hour)) {
		t.Fatal("expected next day to be due again")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in         string
		hour, min  int
		wantErr    bool
	}{
		{"08:00", 8, 0, false},
		{"23:59:00", 23, 59, false},
		{" 7:05 ", 7, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"1200", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseTimeOfDay(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && (h != tt.hour || m != tt.min) {
				t.Errorf("ParseTimeOfDay(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.min)
			}
		})
	}
}
