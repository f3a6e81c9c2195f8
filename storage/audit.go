package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"newsradar/pkg/radar"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AppendAuditLog records one send attempt. Entries are never updated.
func (s *Store) AppendAuditLog(ctx context.Context, entry *radar.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row := &auditLogRow{
		ID:             entry.ID,
		UserID:         entry.UserID,
		SubscriptionID: entry.SubscriptionID,
		Contact:        entry.Contact,
		Channel:        string(entry.Channel),
		MessageContent: entry.MessageContent,
		NewsCount:      entry.NewsCount,
		Status:         string(entry.Status),
		ExecutionType:  string(entry.ExecutionType),
		ErrorMessage:   entry.ErrorMessage,
		CreatedAt:      entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	entry.CreatedAt = row.CreatedAt
	return nil
}

// ListAuditLogs returns the user's most recent audit entries, newest first.
// A limit outside 1..500 falls back to the default of 50.
func (s *Store) ListAuditLogs(ctx context.Context, userID string, channel radar.Channel, limit int) ([]radar.AuditLogEntry, error) {
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if channel != "" {
		q = q.Where("channel = ?", string(channel))
	}
	var rows []auditLogRow
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	out := make([]radar.AuditLogEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
