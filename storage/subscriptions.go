package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"newsradar/dispatch"
	"newsradar/pkg/radar"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// minPhoneDigits is the shortest phone number accepted on write. Delivery applies stricter rules.
const minPhoneDigits = 8

// SubscriptionPatch lists the fields a user may change. Nil fields are left untouched.
type SubscriptionPatch struct {
	Contact       *string          `json:"contact"`
	ScheduledTime *string          `json:"scheduled_time"`
	Frequency     *radar.Frequency `json:"frequency"`
	Weekdays      *[]int           `json:"weekdays"`
	IsActive      *bool            `json:"is_active"`
}

// NormalizeSubscription validates sub and rewrites it into canonical form.
func NormalizeSubscription(sub *radar.Subscription) error {
	if !sub.Channel.Valid() {
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("unknown channel %q", sub.Channel)}
	}

	sub.Contact = strings.TrimSpace(sub.Contact)
	switch sub.Channel {
	case radar.ChannelEmail:
		if !emailPattern.MatchString(sub.Contact) {
			return &ValidationError{Field: "contact", Reason: "invalid email address"}
		}
	case radar.ChannelWhatsApp:
		digits := 0
		for _, r := range sub.Contact {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < minPhoneDigits {
			return &ValidationError{Field: "contact", Reason: fmt.Sprintf("phone number needs at least %d digits", minPhoneDigits)}
		}
	}

	hour, minute, err := dispatch.ParseTimeOfDay(sub.ScheduledTime)
	if err != nil {
		return &ValidationError{Field: "scheduled_time", Reason: err.Error()}
	}
	sub.ScheduledTime = fmt.Sprintf("%02d:%02d", hour, minute)

	switch sub.Frequency {
	case radar.FrequencyDaily:
		sub.Weekdays = []int{}
	case radar.FrequencyWeekly:
		days, err := normalizeWeekdays(sub.Weekdays)
		if err != nil {
			return err
		}
		if len(days) == 0 {
			return &ValidationError{Field: "weekdays", Reason: "weekly subscriptions need at least one weekday"}
		}
		sub.Weekdays = days
	default:
		return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", sub.Frequency)}
	}
	return nil
}

func normalizeWeekdays(in []int) ([]int, error) {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, d := range in {
		if d < 0 || d > 6 {
			return nil, &ValidationError{Field: "weekdays", Reason: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out, nil
}

// CreateSubscription validates and stores a new subscription, filling in its ID and timestamps.
func (s *Store) CreateSubscription(ctx context.Context, sub *radar.Subscription) error {
	if sub.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "missing"}
	}
	if err := NormalizeSubscription(sub); err != nil {
		return err
	}

	row := &subscriptionRow{
		ID:            uuid.NewString(),
		UserID:        sub.UserID,
		Channel:       string(sub.Channel),
		Contact:       sub.Contact,
		ScheduledTime: sub.ScheduledTime,
		Frequency:     string(sub.Frequency),
		Weekdays:      sub.Weekdays,
		IsActive:      sub.IsActive,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("create subscription: %w", err)
	}

	*sub = *row.toDomain()
	s.logger.Info("Subscription created", "id", sub.ID, "user_id", sub.UserID, "channel", sub.Channel, "contact", sub.Contact)
	return nil
}

// Subscription loads one of the user's subscriptions.
func (s *Store) Subscription(ctx context.Context, userID, id string) (*radar.Subscription, error) {
	var row subscriptionRow
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// ListSubscriptions returns the user's subscriptions, optionally for one channel only.
func (s *Store) ListSubscriptions(ctx context.Context, userID string, channel radar.Channel) ([]*radar.Subscription, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if channel != "" {
		q = q.Where("channel = ?", string(channel))
	}
	var rows []subscriptionRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return toSubscriptions(rows), nil
}

// ActiveSubscriptions returns every active subscription for a channel, optionally restricted to one user.
func (s *Store) ActiveSubscriptions(ctx context.Context, channel radar.Channel, userID string) ([]*radar.Subscription, error) {
	q := s.db.WithContext(ctx).Where("channel = ? AND is_active = ?", string(channel), true)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rows []subscriptionRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return toSubscriptions(rows), nil
}

// UpdateSubscription applies patch to one of the user's subscriptions.
func (s *Store) UpdateSubscription(ctx context.Context, userID, id string, patch SubscriptionPatch) (*radar.Subscription, error) {
	var updated *radar.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row subscriptionRow
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
			return notFound(err)
		}

		sub := row.toDomain()
		if patch.Contact != nil {
			sub.Contact = *patch.Contact
		}
		if patch.ScheduledTime != nil {
			sub.ScheduledTime = *patch.ScheduledTime
		}
		if patch.Frequency != nil {
			sub.Frequency = *patch.Frequency
		}
		if patch.Weekdays != nil {
			sub.Weekdays = *patch.Weekdays
		}
		if patch.IsActive != nil {
			sub.IsActive = *patch.IsActive
		}
		if err := NormalizeSubscription(sub); err != nil {
			return err
		}

		row.Contact = sub.Contact
		row.ScheduledTime = sub.ScheduledTime
		row.Frequency = string(sub.Frequency)
		row.Weekdays = sub.Weekdays
		row.IsActive = sub.IsActive
		if err := tx.Save(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}
			return fmt.Errorf("update subscription: %w", err)
		}
		updated = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSubscription removes one of the user's subscriptions. Its audit history is kept.
func (s *Store) DeleteSubscription(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&subscriptionRow{})
	if res.Error != nil {
		return fmt.Errorf("delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Info("Subscription deleted", "id", id, "user_id", userID)
	return nil
}

// MarkSent records a successful dispatch.
func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.markDispatch(ctx, id, map[string]any{
		"last_sent":    at,
		"last_attempt": at,
	})
}

// MarkAttempted records a failed dispatch, leaving last_sent unchanged.
func (s *Store) MarkAttempted(ctx context.Context, id string, at time.Time) error {
	return s.markDispatch(ctx, id, map[string]any{"last_attempt": at})
}

func (s *Store) markDispatch(ctx context.Context, id string, cols map[string]any) error {
	cols["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&subscriptionRow{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("mark dispatch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toSubscriptions(rows []subscriptionRow) []*radar.Subscription {
	subs := make([]*radar.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, rows[i].toDomain())
	}
	return subs
}
