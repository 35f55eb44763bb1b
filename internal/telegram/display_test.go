package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wsotp/internal/tracker"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestDisplay_PostReturnsHandle(t *testing.T) {
	s := &fakeSender{}
	d := NewDisplay(s, 100)

	h, err := d.Post(context.Background(), 42, "1. +229 47879817 🔵 Processing...")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if h != (tracker.Handle{ChatID: 42, MessageID: 1}) {
		t.Errorf("handle = %+v", h)
	}
	msg, ok := s.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.Text != "1. +229 47879817 🔵 Processing..." {
		t.Errorf("sent = %#v", s.sent[0])
	}
}

func TestDisplay_RenderEdits(t *testing.T) {
	s := &fakeSender{}
	d := NewDisplay(s, 100)

	if err := d.Render(context.Background(), tracker.Handle{ChatID: 42, MessageID: 7}, "done"); err != nil {
		t.Fatalf("Render: %v", err)
	}
	edit, ok := s.sent[0].(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("sent %T, want EditMessageTextConfig", s.sent[0])
	}
	if edit.ChatID != 42 || edit.MessageID != 7 || edit.Text != "done" {
		t.Errorf("edit = %+v", edit)
	}
}

func TestDisplay_NotModifiedIsNotAnError(t *testing.T) {
	s := &fakeSender{err: errors.New("Bad Request: message is not modified")}
	d := NewDisplay(s, 100)

	if err := d.Render(context.Background(), tracker.Handle{ChatID: 1, MessageID: 1}, "same"); err != nil {
		t.Errorf("Render = %v, want nil", err)
	}

	s.err = errors.New("Forbidden: bot was blocked by the user")
	if err := d.Render(context.Background(), tracker.Handle{ChatID: 1, MessageID: 1}, "x"); err == nil {
		t.Error("expected other errors to surface")
	}
}

func TestDisplay_CancelledContext(t *testing.T) {
	s := &fakeSender{}
	d := NewDisplay(s, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Post(ctx, 1, "x"); err == nil {
		t.Error("expected error for cancelled context")
	}
	if len(s.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(s.sent))
	}
}
