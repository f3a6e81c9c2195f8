package whatsapp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"newsradar/pkg/radar"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   Inbound
		wantOK bool
	}{
		{
			name:   "single message event",
			body:   `{"event":"messages.upsert","data":{"key":{"remoteJid":"5491112345678@s.whatsapp.net","fromMe":false},"message":{"conversation":"noticias"}}}`,
			want:   Inbound{Phone: "5491112345678", Text: "noticias"},
			wantOK: true,
		},
		{
			name:   "batched extended text",
			body:   `{"data":{"messages":[{"key":{"remoteJid":"5491112345678@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"news please"}}}]}}`,
			want:   Inbound{Phone: "5491112345678", Text: "news please"},
			wantOK: true,
		},
		{
			name:   "direct body",
			body:   `{"number":"+54 9 11 1234-5678","message":"resumen"}`,
			want:   Inbound{Phone: "+54 9 11 1234-5678", Text: "resumen"},
			wantOK: true,
		},
		{
			name: "own message",
			body: `{"data":{"key":{"remoteJid":"5491112345678@s.whatsapp.net","fromMe":true},"message":{"conversation":"noticias"}}}`,
		},
		{
			name: "group chat",
			body: `{"data":{"key":{"remoteJid":"1203630@g.us"},"message":{"conversation":"noticias"}}}`,
		},
		{
			name: "no text",
			body: `{"data":{"key":{"remoteJid":"5491112345678@s.whatsapp.net"},"message":{"imageMessage":{}}}}`,
		},
		{
			name: "status event",
			body: `{"event":"connection.update","data":{"state":"open"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseWebhook = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if _, _, err := ParseWebhook([]byte("{")); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestIsNewsRequest(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Noticias", true},
		{"  últimas noticias de hoy", true},
		{"send me the NEWS", true},
		{"resumen?", true},
		{"hola", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNewsRequest(tt.text); got != tt.want {
			t.Errorf("IsNewsRequest(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

type staticOwners []*radar.Subscription

func (o staticOwners) ActiveSubscriptions(context.Context, radar.Channel, string) ([]*radar.Subscription, error) {
	return o, nil
}

type staticNews struct {
	items []radar.NewsItem
	err   error
	users []string
}

func (n *staticNews) Latest(_ context.Context, userID string) ([]radar.NewsItem, error) {
	n.users = append(n.users, userID)
	return n.items, n.err
}

type memHistory struct {
	msgs []radar.WhatsAppMessage
}

func (h *memHistory) AppendWhatsAppMessage(_ context.Context, msg *radar.WhatsAppMessage) error {
	h.msgs = append(h.msgs, *msg)
	return nil
}

func TestInboxHandle(t *testing.T) {
	owners := staticOwners{
		{UserID: "u1", Contact: "+54 9 11 1234-5678", Channel: radar.ChannelWhatsApp},
		{UserID: "u2", Contact: "+54 9 11 8765-4321", Channel: radar.ChannelWhatsApp},
	}
	cfg := staticConfigs{cfg: &radar.WhatsAppConfig{BaseURL: "http://gw"}}
	items := []radar.NewsItem{
		{Title: "Budget approved", Summary: "The senate approved the budget", SourceURL: "https://example.com/1"},
	}

	t.Run("news request", func(t *testing.T) {
		gw := &recordingGateway{}
		hist := &memHistory{}
		news := &staticNews{items: items}
		inbox := NewInbox(NewSender(cfg, hist, gw, "54", nil, testLogger()), owners, news, hist, testLogger())

		res, err := inbox.Handle(context.Background(), Inbound{Phone: "5491187654321", Text: "Noticias"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if !res.Processed || res.UserID != "u2" || res.Reply == nil || !res.Reply.Success {
			t.Fatalf("unexpected result %+v", res)
		}
		if len(news.users) != 1 || news.users[0] != "u2" {
			t.Errorf("news read for %v, want [u2]", news.users)
		}
		if gw.number != "5491187654321" || !strings.Contains(gw.text, "*1.* Budget approved") {
			t.Errorf("reply sent to %q: %q", gw.number, gw.text)
		}
		if len(hist.msgs) != 2 {
			t.Fatalf("recorded %d messages, want 2", len(hist.msgs))
		}
		if hist.msgs[0].Direction != radar.DirectionIncoming || hist.msgs[0].Text != "Noticias" {
			t.Errorf("first message = %+v", hist.msgs[0])
		}
		if hist.msgs[1].Direction != radar.DirectionOutgoing || hist.msgs[1].UserID != "u2" {
			t.Errorf("second message = %+v", hist.msgs[1])
		}
	})

	t.Run("chat message is only recorded", func(t *testing.T) {
		gw := &recordingGateway{}
		hist := &memHistory{}
		inbox := NewInbox(NewSender(cfg, hist, gw, "54", nil, testLogger()), owners, &staticNews{}, hist, testLogger())

		res, err := inbox.Handle(context.Background(), Inbound{Phone: "5491112345678", Text: "hola"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if res.Processed || res.UserID != "u1" || gw.calls != 0 {
			t.Errorf("unexpected result %+v, gateway calls %d", res, gw.calls)
		}
		if len(hist.msgs) != 1 {
			t.Errorf("recorded %d messages, want 1", len(hist.msgs))
		}
	})

	t.Run("unknown number", func(t *testing.T) {
		gw := &recordingGateway{}
		hist := &memHistory{}
		inbox := NewInbox(NewSender(cfg, hist, gw, "54", nil, testLogger()), owners, &staticNews{}, hist, testLogger())

		res, err := inbox.Handle(context.Background(), Inbound{Phone: "5491100000000", Text: "noticias"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if res.Processed || res.Reason != ErrUnknownNumber.Error() || gw.calls != 0 || len(hist.msgs) != 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("news error", func(t *testing.T) {
		gw := &recordingGateway{}
		inbox := NewInbox(NewSender(cfg, nil, gw, "54", nil, testLogger()), owners, &staticNews{err: errors.New("cache down")}, nil, testLogger())

		if _, err := inbox.Handle(context.Background(), Inbound{Phone: "5491112345678", Text: "news"}); err == nil {
			t.Fatal("expected error")
		}
		if gw.calls != 0 {
			t.Error("no reply expected when news cannot be read")
		}
	})
}

func TestSenderReplyNews(t *testing.T) {
	cfg := staticConfigs{cfg: &radar.WhatsAppConfig{BaseURL: "http://gw"}}

	t.Run("caps and truncates", func(t *testing.T) {
		gw := &recordingGateway{}
		s := NewSender(cfg, nil, gw, "54", nil, testLogger())
		items := make([]radar.NewsItem, 7)
		for i := range items {
			items[i] = radar.NewsItem{Title: "T", Summary: strings.Repeat("a", 200), SourceURL: "https://example.com"}
		}
		res := s.ReplyNews(context.Background(), "u1", "5491112345678", items)
		if !res.Success {
			t.Fatalf("ReplyNews: %+v", res)
		}
		if !strings.HasPrefix(gw.text, "📰 *TODAY'S NEWS*\n\n") {
			t.Errorf("missing header: %q", gw.text)
		}
		if !strings.Contains(gw.text, "*5.*") || strings.Contains(gw.text, "*6.*") {
			t.Error("expected exactly 5 items")
		}
		if !strings.Contains(gw.text, "📝 "+strings.Repeat("a", 150)+"...\n") || strings.Contains(gw.text, strings.Repeat("a", 151)) {
			t.Error("summary not truncated to 150 characters")
		}
		if !strings.Contains(gw.text, "📅 Date: ") {
			t.Error("missing date line")
		}
	})

	t.Run("no news", func(t *testing.T) {
		gw := &recordingGateway{}
		s := NewSender(cfg, nil, gw, "54", nil, testLogger())
		s.ReplyNews(context.Background(), "u1", "5491112345678", nil)
		if gw.text != "No news found for today. 📰" {
			t.Errorf("reply = %q", gw.text)
		}
	})

	t.Run("failed send is not recorded", func(t *testing.T) {
		gw := &recordingGateway{fail: true}
		hist := &memHistory{}
		s := NewSender(cfg, hist, gw, "54", nil, testLogger())
		if res := s.ReplyNews(context.Background(), "u1", "5491112345678", nil); res.Success {
			t.Fatal("expected failure")
		}
		if len(hist.msgs) != 0 {
			t.Errorf("recorded %d messages, want 0", len(hist.msgs))
		}
	})
}
