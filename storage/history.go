package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsradar/pkg/radar"
)

// AppendWhatsAppMessage records one received or sent WhatsApp message.
func (s *Store) AppendWhatsAppMessage(ctx context.Context, msg *radar.WhatsAppMessage) error {
	if msg.Direction != radar.DirectionIncoming && msg.Direction != radar.DirectionOutgoing {
		return &ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", msg.Direction)}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	row := &whatsAppMessageRow{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Phone:     msg.Phone,
		Text:      msg.Text,
		Direction: string(msg.Direction),
		CreatedAt: msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append whatsapp message: %w", err)
	}
	msg.CreatedAt = row.CreatedAt
	return nil
}

// ListWhatsAppMessages returns the user's conversation history, newest first, optionally for one number.
func (s *Store) ListWhatsAppMessages(ctx context.Context, userID, phone string, limit int) ([]radar.WhatsAppMessage, error) {
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if phone != "" {
		q = q.Where("phone = ?", phone)
	}
	var rows []whatsAppMessageRow
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list whatsapp messages: %w", err)
	}
	out := make([]radar.WhatsAppMessage, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// StartRunLog stores a new scraper run entry in the started state.
func (s *Store) StartRunLog(ctx context.Context, l *radar.RunLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = radar.RunLogStarted
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now()
	}
	row := &runLogRow{
		ID:         l.ID,
		UserID:     l.UserID,
		RunID:      l.RunID,
		Operation:  l.Operation,
		Parameters: string(l.Parameters),
		Status:     string(l.Status),
		StartedAt:  l.StartedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("start run log: %w", err)
	}
	return nil
}

// FinishRunLog records the outcome of a run started with StartRunLog.
func (s *Store) FinishRunLog(ctx context.Context, l *radar.RunLog) error {
	res := s.db.WithContext(ctx).Model(&runLogRow{}).Where("id = ?", l.ID).Updates(map[string]any{
		"run_id":      l.RunID,
		"status":      string(l.Status),
		"error":       l.Error,
		"item_count":  l.ItemCount,
		"duration_ms": l.DurationMS,
		"finished_at": l.FinishedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("finish run log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRunLogs returns the user's most recent scraper runs, newest first.
func (s *Store) ListRunLogs(ctx context.Context, userID string, limit int) ([]radar.RunLog, error) {
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	var rows []runLogRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("started_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	out := make([]radar.RunLog, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
