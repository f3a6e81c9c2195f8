package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"newsradar/pkg/radar"
)

// ConfigSource loads a user's gateway settings.
type ConfigSource interface {
	WhatsAppConfig(ctx context.Context, userID string) (*radar.WhatsAppConfig, error)
}

// History records the conversation with each number.
type History interface {
	AppendWhatsAppMessage(ctx context.Context, msg *radar.WhatsAppMessage) error
}

const (
	summaryLimit      = 100
	replySummaryLimit = 150
	replyItems        = 5
	separator         = "━━━━━━━━━━━━━━━━━━━━"
)

// Sender renders digests as WhatsApp text and delivers them through a Gateway.
type Sender struct {
	configs     ConfigSource
	history     History // nil disables history
	gateway     Gateway
	logger      *slog.Logger
	location    *time.Location
	countryCode string
}

// NewSender creates a WhatsApp sender. countryCode is prepended to local numbers.
// Successful sends are appended to history when it is not nil.
func NewSender(configs ConfigSource, history History, gateway Gateway, countryCode string, loc *time.Location, logger *slog.Logger) *Sender {
	if loc == nil {
		loc = time.UTC
	}
	return &Sender{
		configs:     configs,
		history:     history,
		gateway:     gateway,
		logger:      logger,
		location:    loc,
		countryCode: countryCode,
	}
}

// Compose renders the digest as a WhatsApp-formatted text message.
func (s *Sender) Compose(d *radar.Digest) radar.Message {
	if d.Empty() {
		return radar.Message{Body: "📰 *DAILY NEWS*\n\n⚠️ No news available right now.\n\nWe will try again later.\n\n🤖 News Radar"}
	}

	var b strings.Builder
	b.WriteString("📰 *DAILY NEWS DIGEST*\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", d.Date.Format("Jan 2, 2006")))
	for i, item := range d.Items {
		b.WriteString(fmt.Sprintf("*%d.* %s\n", i+1, item.Title))
		if item.Summary != "" {
			b.WriteString(fmt.Sprintf("📝 %s...\n", truncate(item.Summary, summaryLimit)))
		}
		if u := strings.TrimSpace(item.SourceURL); u != "" && u != "#" && u != "N/A" {
			b.WriteString(fmt.Sprintf("🔗 %s\n", u))
		}
		b.WriteString("\n")
	}
	b.WriteString(separator + "\n")
	b.WriteString(fmt.Sprintf("🤖 News Radar (%d news items)", d.Total))
	return radar.Message{Body: b.String()}
}

// Deliver sends msg to the subscription's phone number using the owner's gateway settings.
func (s *Sender) Deliver(ctx context.Context, sub *radar.Subscription, msg radar.Message) radar.SendResult {
	cfg, err := s.configs.WhatsAppConfig(ctx, sub.UserID)
	if err != nil {
		s.logger.Warn("WhatsApp configuration unavailable", "user_id", sub.UserID, "error", err)
		return radar.Failure(MethodEvolution, fmt.Sprintf("WhatsApp configuration not found: %v", err))
	}
	return s.send(ctx, sub.UserID, cfg, sub.Contact, msg.Body)
}

// SendTest sends a fixed message to phone with the user's current configuration.
func (s *Sender) SendTest(ctx context.Context, userID, phone string) radar.SendResult {
	cfg, err := s.configs.WhatsAppConfig(ctx, userID)
	if err != nil {
		return radar.Failure(MethodEvolution, fmt.Sprintf("WhatsApp configuration not found: %v", err))
	}
	text := fmt.Sprintf("🤖 News Radar test message\n\n✅ WhatsApp is working!\n\n%s",
		time.Now().In(s.location).Format("Jan 2, 2006 15:04"))
	return s.send(ctx, userID, cfg, phone, text)
}

// ReplyNews answers an inbound news request with the first few items.
func (s *Sender) ReplyNews(ctx context.Context, userID, phone string, items []radar.NewsItem) radar.SendResult {
	cfg, err := s.configs.WhatsAppConfig(ctx, userID)
	if err != nil {
		return radar.Failure(MethodEvolution, fmt.Sprintf("WhatsApp configuration not found: %v", err))
	}
	return s.send(ctx, userID, cfg, phone, s.composeReply(items))
}

func (s *Sender) composeReply(items []radar.NewsItem) string {
	if len(items) == 0 {
		return "No news found for today. 📰"
	}
	var b strings.Builder
	b.WriteString("📰 *TODAY'S NEWS*\n\n")
	for i, item := range items {
		if i == replyItems {
			break
		}
		b.WriteString(fmt.Sprintf("*%d.* %s\n", i+1, item.Title))
		if item.Summary != "" {
			b.WriteString(fmt.Sprintf("📝 %s...\n", truncate(item.Summary, replySummaryLimit)))
		}
		b.WriteString(fmt.Sprintf("🔗 %s\n\n", item.SourceURL))
	}
	b.WriteString("📅 Date: " + time.Now().In(s.location).Format("Jan 2, 2006"))
	return b.String()
}

func (s *Sender) send(ctx context.Context, userID string, cfg *radar.WhatsAppConfig, phone, text string) radar.SendResult {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return radar.Failure(MethodEvolution, "WhatsApp gateway URL is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return radar.Failure(MethodEvolution, "empty message")
	}
	number, err := NormalizePhone(phone, s.countryCode)
	if err != nil {
		return radar.Failure(MethodEvolution, err.Error())
	}

	s.logger.Info("Sending WhatsApp message", "number", number, "length", len(text))
	res := s.gateway.SendText(ctx, cfg, number, text)
	if !res.Success {
		s.logger.Warn("WhatsApp send failed", "number", number, "error", res.Error)
		return res
	}
	s.record(ctx, userID, number, text, radar.DirectionOutgoing)
	return res
}

func (s *Sender) record(ctx context.Context, userID, number, text string, dir radar.Direction) {
	if s.history == nil {
		return
	}
	msg := &radar.WhatsAppMessage{UserID: userID, Phone: number, Text: text, Direction: dir, CreatedAt: time.Now()}
	if err := s.history.AppendWhatsAppMessage(ctx, msg); err != nil {
		s.logger.Warn("Failed to record WhatsApp message", "number", number, "direction", dir, "error", err)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
