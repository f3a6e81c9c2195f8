// Package radar contains the core domain types for the News Radar service.
package radar

import (
	"encoding/json"
	"time"
)

// Channel identifies how a digest is delivered.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// Frequency controls on which days a subscription fires.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// DeliveryStatus is the outcome recorded in the audit log.
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// ExecutionType records what triggered a dispatch.
type ExecutionType string

const (
	ExecutionManual    ExecutionType = "manual"
	ExecutionScheduled ExecutionType = "scheduled"
)

// Subscription is a stored rule describing when and where to send a news digest.
type Subscription struct {
	LastSent      *time.Time `json:"last_sent"`      // Most recent successful dispatch
	LastAttempt   *time.Time `json:"last_attempt"`   // Most recent dispatch, successful or not
	CreatedAt     time.Time  `json:"created_at"`     // Creation timestamp
	UpdatedAt     time.Time  `json:"updated_at"`     // Last modification
	ID            string     `json:"id"`             // UUID
	UserID        string     `json:"user_id"`        // Owning account
	Channel       Channel    `json:"channel"`        // email or whatsapp
	Contact       string     `json:"contact"`        // Email address or phone number
	ScheduledTime string     `json:"scheduled_time"` // HH:MM in the service timezone
	Frequency     Frequency  `json:"frequency"`      // daily or weekly
	Weekdays      []int      `json:"weekdays"`       // 0=Sunday, weekly only
	IsActive      bool       `json:"is_active"`
}

// HasWeekday reports whether day is in the subscription's weekday set.
func (s *Subscription) HasWeekday(day time.Weekday) bool {
	for _, d := range s.Weekdays {
		if d == int(day) {
			return true
		}
	}
	return false
}

// NewsItem is a single scraped article.
type NewsItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Date       string   `json:"date"`
	SourceURL  string   `json:"source_url"`
	SourceName string   `json:"source_name"`
	Topics     []string `json:"topics"`
}

// AuditLogEntry is an immutable record of one send attempt.
type AuditLogEntry struct {
	CreatedAt      time.Time      `json:"created_at"`
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	SubscriptionID string         `json:"subscription_id"`
	Contact        string         `json:"contact"`
	Channel        Channel        `json:"channel"`
	MessageContent string         `json:"message_content"`
	Status         DeliveryStatus `json:"status"`
	ExecutionType  ExecutionType  `json:"execution_type"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	NewsCount      int            `json:"news_count"`
}

// Digest is the set of items handed to a sender for one message.
type Digest struct {
	Date  time.Time  // Local date the digest is for
	Items []NewsItem // At most MaxDigestItems
	Total int        // Items found before capping
}

// MaxDigestItems caps how many items are rendered into a single message.
const MaxDigestItems = 10

// NewDigest builds a digest from all available items, keeping the first MaxDigestItems.
func NewDigest(items []NewsItem, date time.Time) *Digest {
	d := &Digest{Date: date, Total: len(items)}
	if len(items) > MaxDigestItems {
		items = items[:MaxDigestItems]
	}
	d.Items = items
	return d
}

// Empty reports whether there is nothing to report.
func (d *Digest) Empty() bool {
	return d == nil || len(d.Items) == 0
}

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string // Unused by WhatsApp
	Body    string
}

// SendResult is the structured outcome of a delivery attempt.
type SendResult struct {
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Success   bool   `json:"success"`
}

// Failure builds a failed SendResult.
func Failure(method, msg string) SendResult {
	return SendResult{Method: method, Error: msg}
}

// EmailConfig holds a user's SMTP credentials.
type EmailConfig struct {
	Host     string `json:"smtp_host"`
	Username string `json:"smtp_username"`
	Password string `json:"smtp_password,omitempty"`
	FromName string `json:"from_name"`
	Port     int    `json:"smtp_port"`
	UseTLS   bool   `json:"use_tls"`
}

// WhatsAppConfig holds a user's Evolution API gateway settings.
type WhatsAppConfig struct {
	BaseURL string `json:"evolution_api_url"`
	APIKey  string `json:"api_key,omitempty"`
}

// Source is a news site the scraper should visit.
type Source struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// SearchSettings are per-user scraper flags.
type SearchSettings struct {
	MaxResults     int  `json:"max_results"`
	IncludeTwitter bool `json:"include_twitter"`
	ValidateLinks  bool `json:"validate_links"`
	TodayOnly      bool `json:"today_only"`
	DeepScrape     bool `json:"deep_scrape"`
}

// Direction tells whether a WhatsApp message was received or sent by the service.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// WhatsAppMessage is one entry of a user's WhatsApp conversation history.
type WhatsAppMessage struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Phone     string    `json:"phone_number"`
	Text      string    `json:"message_text"`
	Direction Direction `json:"direction"`
}

// RunLogStatus is the state of a logged scraper execution.
type RunLogStatus string

const (
	RunLogStarted   RunLogStatus = "started"
	RunLogCompleted RunLogStatus = "completed"
	RunLogError     RunLogStatus = "error"
)

// RunLog records one scraper execution made on behalf of a user.
type RunLog struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	RunID      string          `json:"run_id,omitempty"`
	Operation  string          `json:"operation"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     RunLogStatus    `json:"status"`
	Error      string          `json:"error,omitempty"`
	ItemCount  int             `json:"item_count"`
	DurationMS int64           `json:"duration_ms"`
}
