package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsradar/pkg/radar"
)

// DefaultTolerance is how long after the scheduled minute a subscription stays due.
// A tick that lands anywhere inside the window still sends; the last attempt keeps it to once per day.
const DefaultTolerance = 10 * time.Minute

// Schedule decides whether a subscription should fire at a given instant.
type Schedule struct {
	Location  *time.Location
	Tolerance time.Duration
}

// NewSchedule returns a schedule evaluated in loc. A tolerance below one minute means exact-minute matching.
func NewSchedule(loc *time.Location, tolerance time.Duration) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{Location: loc, Tolerance: tolerance}
}

// Due reports whether sub should be sent at now.
func (s Schedule) Due(sub *radar.Subscription, now time.Time) bool {
	if sub == nil || !sub.IsActive {
		return false
	}
	local := now.In(s.location())

	hour, minute, err := ParseTimeOfDay(sub.ScheduledTime)
	if err != nil {
		return false
	}
	elapsed := (local.Hour()*60 + local.Minute()) - (hour*60 + minute)
	if elapsed < 0 || elapsed >= s.windowMinutes() {
		return false
	}

	if s.attemptedOn(sub.LastSent, local) || s.attemptedOn(sub.LastAttempt, local) {
		return false
	}

	switch sub.Frequency {
	case radar.FrequencyDaily:
		return true
	case radar.FrequencyWeekly:
		return sub.HasWeekday(local.Weekday())
	default:
		return false
	}
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Schedule) attemptedOn(t *time.Time, local time.Time) bool {
	return t != nil && sameDay(t.In(s.location()), local)
}

func (s Schedule) windowMinutes() int {
	m := int(s.Tolerance / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
