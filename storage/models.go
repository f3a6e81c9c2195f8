package storage

import (
	"encoding/json"
	"time"

	"newsradar/pkg/radar"
)

type subscriptionRow struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)"`
	UserID        string     `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_subscription_contact"`
	Channel       string     `gorm:"type:varchar(16);not null;index;uniqueIndex:idx_subscription_contact"`
	Contact       string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_subscription_contact"`
	ScheduledTime string     `gorm:"type:varchar(8);not null"`
	Frequency     string     `gorm:"type:varchar(16);not null"`
	Weekdays      []int      `gorm:"type:text;serializer:json"`
	IsActive      bool       `gorm:"not null"`
	LastSent      *time.Time
	LastAttempt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

func (r *subscriptionRow) toDomain() *radar.Subscription {
	days := r.Weekdays
	if days == nil {
		days = []int{}
	}
	return &radar.Subscription{
		ID:            r.ID,
		UserID:        r.UserID,
		Channel:       radar.Channel(r.Channel),
		Contact:       r.Contact,
		ScheduledTime: r.ScheduledTime,
		Frequency:     radar.Frequency(r.Frequency),
		Weekdays:      days,
		IsActive:      r.IsActive,
		LastSent:      r.LastSent,
		LastAttempt:   r.LastAttempt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type auditLogRow struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	UserID         string `gorm:"type:varchar(64);not null;index"`
	SubscriptionID string `gorm:"type:varchar(36);index"`
	Contact        string `gorm:"type:varchar(255)"`
	Channel        string `gorm:"type:varchar(16);index"`
	MessageContent string `gorm:"type:text"`
	NewsCount      int
	Status         string `gorm:"type:varchar(16);not null"`
	ExecutionType  string `gorm:"type:varchar(16);not null"`
	ErrorMessage   string `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index"`
}

func (auditLogRow) TableName() string { return "audit_logs" }

func (r *auditLogRow) toDomain() radar.AuditLogEntry {
	return radar.AuditLogEntry{
		ID:             r.ID,
		UserID:         r.UserID,
		SubscriptionID: r.SubscriptionID,
		Contact:        r.Contact,
		Channel:        radar.Channel(r.Channel),
		MessageContent: r.MessageContent,
		NewsCount:      r.NewsCount,
		Status:         radar.DeliveryStatus(r.Status),
		ExecutionType:  radar.ExecutionType(r.ExecutionType),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
	}
}

type emailConfigRow struct {
	UserID         string `gorm:"primaryKey;type:varchar(64)"`
	Host           string `gorm:"type:varchar(255)"`
	Port           int
	Username       string `gorm:"type:varchar(255)"`
	PasswordSealed string `gorm:"type:text"`
	FromName       string `gorm:"type:varchar(100)"`
	UseTLS         bool
	UpdatedAt      time.Time
}

func (emailConfigRow) TableName() string { return "email_configs" }

type whatsAppConfigRow struct {
	UserID       string `gorm:"primaryKey;type:varchar(64)"`
	BaseURL      string `gorm:"type:varchar(512)"`
	APIKeySealed string `gorm:"type:text"`
	UpdatedAt    time.Time
}

func (whatsAppConfigRow) TableName() string { return "whatsapp_configs" }

type keywordRow struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(64);not null;index"`
	Keyword   string `gorm:"type:varchar(255);not null"`
	Position  int
	CreatedAt time.Time
}

func (keywordRow) TableName() string { return "keywords" }

type sourceRow struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(64);not null;index"`
	Name      string `gorm:"type:varchar(255)"`
	URL       string `gorm:"type:varchar(1024);not null"`
	Enabled   bool
	Position  int
	CreatedAt time.Time
}

func (sourceRow) TableName() string { return "news_sources" }

type searchSettingsRow struct {
	UserID         string `gorm:"primaryKey;type:varchar(64)"`
	MaxResults     int
	IncludeTwitter bool
	ValidateLinks  bool
	TodayOnly      bool
	DeepScrape     bool
	UpdatedAt      time.Time
}

func (searchSettingsRow) TableName() string { return "search_settings" }

type twitterUserRow struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(64);not null;index"`
	Username  string `gorm:"type:varchar(32);not null"`
	Position  int
	CreatedAt time.Time
}

func (twitterUserRow) TableName() string { return "twitter_users" }

type whatsAppMessageRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(64);not null;index"`
	Phone     string    `gorm:"type:varchar(32);not null;index"`
	Text      string    `gorm:"type:text"`
	Direction string    `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (whatsAppMessageRow) TableName() string { return "whatsapp_messages" }

func (r *whatsAppMessageRow) toDomain() radar.WhatsAppMessage {
	return radar.WhatsAppMessage{
		ID:        r.ID,
		UserID:    r.UserID,
		Phone:     r.Phone,
		Text:      r.Text,
		Direction: radar.Direction(r.Direction),
		CreatedAt: r.CreatedAt,
	}
}

type runLogRow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	UserID     string `gorm:"type:varchar(64);not null;index"`
	RunID      string `gorm:"type:varchar(64)"`
	Operation  string `gorm:"type:varchar(32);not null"`
	Parameters string `gorm:"type:text"`
	Status     string `gorm:"type:varchar(16);not null"`
	Error      string `gorm:"type:text"`
	ItemCount  int
	DurationMS int64
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
}

func (runLogRow) TableName() string { return "radar_logs" }

func (r *runLogRow) toDomain() radar.RunLog {
	l := radar.RunLog{
		ID:         r.ID,
		UserID:     r.UserID,
		RunID:      r.RunID,
		Operation:  r.Operation,
		Status:     radar.RunLogStatus(r.Status),
		Error:      r.Error,
		ItemCount:  r.ItemCount,
		DurationMS: r.DurationMS,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Parameters != "" {
		l.Parameters = json.RawMessage(r.Parameters)
	}
	return l
}
