package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsradar/pkg/radar"
)

// Inbound is a text message received from the gateway.
type Inbound struct {
	Phone string `json:"phone_number"`
	Text  string `json:"message_text"`
}

// newsKeywords trigger an on-demand news reply.
var newsKeywords = []string{"noticias", "noticia", "news", "resumen"}

// IsNewsRequest reports whether text asks for the current news.
func IsNewsRequest(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, k := range newsKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

type webhookMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Message *struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
}

func (m *webhookMessage) text() string {
	if m.Message == nil {
		return ""
	}
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	if m.Message.ExtendedTextMessage != nil {
		return m.Message.ExtendedTextMessage.Text
	}
	return ""
}

type webhookPayload struct {
	Data *struct {
		webhookMessage
		Messages []webhookMessage `json:"messages"`
	} `json:"data"`
	Number  string `json:"number"`
	Message string `json:"message"`
}

// ParseWebhook extracts the sender and text from a gateway event. It accepts the
// gateway's single-message and batched event shapes as well as a plain
// {"number", "message"} body. ok is false for events that carry no usable text,
// for messages sent by the instance itself, and for group chats.
func ParseWebhook(body []byte) (in Inbound, ok bool, err error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Inbound{}, false, fmt.Errorf("decode webhook: %w", err)
	}

	var msg *webhookMessage
	switch {
	case p.Data != nil && len(p.Data.Messages) > 0:
		msg = &p.Data.Messages[0]
	case p.Data != nil && p.Data.Key.RemoteJID != "":
		msg = &p.Data.webhookMessage
	case p.Number != "" && p.Message != "":
		return Inbound{Phone: p.Number, Text: p.Message}, true, nil
	default:
		return Inbound{}, false, nil
	}

	jid := msg.Key.RemoteJID
	if msg.Key.FromMe || strings.HasSuffix(jid, "@g.us") {
		return Inbound{}, false, nil
	}
	in = Inbound{Phone: strings.TrimSuffix(jid, "@s.whatsapp.net"), Text: msg.text()}
	if in.Phone == "" || strings.TrimSpace(in.Text) == "" {
		return Inbound{}, false, nil
	}
	return in, true, nil
}

// Owners finds the subscriptions an inbound number may belong to.
type Owners interface {
	ActiveSubscriptions(ctx context.Context, channel radar.Channel, userID string) ([]*radar.Subscription, error)
}

// NewsReader reads a user's current news without refreshing it.
type NewsReader interface {
	Latest(ctx context.Context, userID string) ([]radar.NewsItem, error)
}

// InboxResult describes what Handle did with a message.
type InboxResult struct {
	Reply     *radar.SendResult `json:"reply,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Processed bool              `json:"processed"`
}

// Inbox answers inbound WhatsApp messages from subscribed numbers.
type Inbox struct {
	sender  *Sender
	owners  Owners
	news    NewsReader
	history History
	logger  *slog.Logger
}

// NewInbox creates an Inbox. history may be nil.
func NewInbox(sender *Sender, owners Owners, news NewsReader, history History, logger *slog.Logger) *Inbox {
	return &Inbox{sender: sender, owners: owners, news: news, history: history, logger: logger}
}

// ErrUnknownNumber is reported when no active subscription matches the sender.
var ErrUnknownNumber = errors.New("number is not subscribed")

// Handle records an inbound message and replies with the owner's news when asked.
// Messages from numbers without an active WhatsApp subscription are ignored.
func (i *Inbox) Handle(ctx context.Context, in Inbound) (*InboxResult, error) {
	number, err := NormalizePhone(in.Phone, i.sender.countryCode)
	if err != nil {
		return &InboxResult{Reason: err.Error()}, nil
	}
	userID, err := i.owner(ctx, number)
	if errors.Is(err, ErrUnknownNumber) {
		i.logger.Info("Ignoring WhatsApp message from unknown number", "number", number)
		return &InboxResult{Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	if i.history != nil {
		msg := &radar.WhatsAppMessage{UserID: userID, Phone: number, Text: in.Text, Direction: radar.DirectionIncoming, CreatedAt: time.Now()}
		if err := i.history.AppendWhatsAppMessage(ctx, msg); err != nil {
			i.logger.Warn("Failed to record WhatsApp message", "number", number, "direction", radar.DirectionIncoming, "error", err)
		}
	}

	if !IsNewsRequest(in.Text) {
		return &InboxResult{UserID: userID, Reason: "not a news request"}, nil
	}

	items, err := i.news.Latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest news for %s: %w", userID, err)
	}
	i.logger.Info("Replying to WhatsApp news request", "user_id", userID, "number", number, "items", len(items))
	res := i.sender.ReplyNews(ctx, userID, number, items)
	return &InboxResult{UserID: userID, Processed: true, Reply: &res}, nil
}

func (i *Inbox) owner(ctx context.Context, number string) (string, error) {
	subs, err := i.owners.ActiveSubscriptions(ctx, radar.ChannelWhatsApp, "")
	if err != nil {
		return "", fmt.Errorf("lookup owner: %w", err)
	}
	for _, sub := range subs {
		n, err := NormalizePhone(sub.Contact, i.sender.countryCode)
		if err == nil && n == number {
			return sub.UserID, nil
		}
	}
	return "", ErrUnknownNumber
}
