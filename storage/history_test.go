package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"newsradar/pkg/radar"
)

func TestTwitterUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kept, err := s.ReplaceTwitterUsers(ctx, "user-1", []string{"@SenadoBA", " ", "senadoba", "Kicillofok"})
	if err != nil {
		t.Fatalf("ReplaceTwitterUsers: %v", err)
	}
	if len(kept) != 2 || kept[0] != "SenadoBA" || kept[1] != "Kicillofok" {
		t.Errorf("ReplaceTwitterUsers() kept %v", kept)
	}
	got, err := s.TwitterUsers(ctx, "user-1")
	if err != nil {
		t.Fatalf("TwitterUsers: %v", err)
	}
	if len(got) != 2 || got[0] != "SenadoBA" {
		t.Errorf("TwitterUsers() = %v", got)
	}

	var ve *ValidationError
	if _, err := s.ReplaceTwitterUsers(ctx, "user-1", []string{"not a handle"}); !errors.As(err, &ve) {
		t.Errorf("invalid handle error = %v, want ValidationError", err)
	}
	got, err = s.TwitterUsers(ctx, "user-1")
	if err != nil || len(got) != 2 {
		t.Errorf("rejected update changed the list: %v, %v", got, err)
	}

	other, err := s.TwitterUsers(ctx, "user-2")
	if err != nil || len(other) != 0 {
		t.Errorf("TwitterUsers(user-2) = %v, %v", other, err)
	}
}

func TestWhatsAppMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

	msgs := []*radar.WhatsAppMessage{
		{UserID: "user-1", Phone: "5491112345678", Text: "noticias", Direction: radar.DirectionIncoming, CreatedAt: base},
		{UserID: "user-1", Phone: "5491112345678", Text: "digest", Direction: radar.DirectionOutgoing, CreatedAt: base.Add(time.Second)},
		{UserID: "user-1", Phone: "5491199999999", Text: "hola", Direction: radar.DirectionIncoming, CreatedAt: base.Add(2 * time.Second)},
		{UserID: "user-2", Phone: "5491112345678", Text: "other", Direction: radar.DirectionIncoming, CreatedAt: base},
	}
	for _, m := range msgs {
		if err := s.AppendWhatsAppMessage(ctx, m); err != nil {
			t.Fatalf("AppendWhatsAppMessage: %v", err)
		}
		if m.ID == "" {
			t.Error("message ID not assigned")
		}
	}

	var ve *ValidationError
	if err := s.AppendWhatsAppMessage(ctx, &radar.WhatsAppMessage{UserID: "user-1", Direction: "sideways"}); !errors.As(err, &ve) {
		t.Errorf("unknown direction error = %v, want ValidationError", err)
	}

	all, err := s.ListWhatsAppMessages(ctx, "user-1", "", 0)
	if err != nil {
		t.Fatalf("ListWhatsAppMessages: %v", err)
	}
	if len(all) != 3 || all[0].Text != "hola" {
		t.Errorf("ListWhatsAppMessages() = %+v", all)
	}

	thread, err := s.ListWhatsAppMessages(ctx, "user-1", "5491112345678", 0)
	if err != nil {
		t.Fatalf("ListWhatsAppMessages(phone): %v", err)
	}
	if len(thread) != 2 || thread[0].Direction != radar.DirectionOutgoing || thread[1].Direction != radar.DirectionIncoming {
		t.Errorf("thread = %+v", thread)
	}
}

func TestRunLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

	entry := &radar.RunLog{
		UserID:     "user-1",
		Operation:  "refresh",
		Parameters: json.RawMessage(`{"keywords":["senado"]}`),
		StartedAt:  started,
	}
	if err := s.StartRunLog(ctx, entry); err != nil {
		t.Fatalf("StartRunLog: %v", err)
	}
	if entry.ID == "" || entry.Status != radar.RunLogStarted {
		t.Errorf("StartRunLog() left %+v", entry)
	}

	finished := started.Add(90 * time.Second)
	entry.RunID = "run-1"
	entry.Status = radar.RunLogCompleted
	entry.ItemCount = 12
	entry.DurationMS = 90000
	entry.FinishedAt = &finished
	if err := s.FinishRunLog(ctx, entry); err != nil {
		t.Fatalf("FinishRunLog: %v", err)
	}

	older := &radar.RunLog{UserID: "user-1", Operation: "refresh", StartedAt: started.Add(-time.Hour)}
	if err := s.StartRunLog(ctx, older); err != nil {
		t.Fatalf("StartRunLog: %v", err)
	}

	logs, err := s.ListRunLogs(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListRunLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("ListRunLogs() = %d entries, want 2", len(logs))
	}
	got := logs[0]
	if got.RunID != "run-1" || got.Status != radar.RunLogCompleted || got.ItemCount != 12 || got.DurationMS != 90000 {
		t.Errorf("finished entry = %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
	if string(got.Parameters) != `{"keywords":["senado"]}` {
		t.Errorf("Parameters = %s", got.Parameters)
	}
	if logs[1].Status != radar.RunLogStarted {
		t.Errorf("older entry status = %s", logs[1].Status)
	}

	if err := s.FinishRunLog(ctx, &radar.RunLog{ID: "missing", Status: radar.RunLogError}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRunLog(missing) error = %v, want ErrNotFound", err)
	}
	if other, err := s.ListRunLogs(ctx, "user-2", 0); err != nil || len(other) != 0 {
		t.Errorf("ListRunLogs(user-2) = %v, %v", other, err)
	}
}
