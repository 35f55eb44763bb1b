package telegram

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wsotp/internal/events"
	"wsotp/internal/logger"
	"wsotp/internal/pool"
	"wsotp/internal/remote/remotetest"
	"wsotp/internal/storage"
)

type plainOpener struct{}

func (plainOpener) Open(sealed string) (string, error) { return sealed, nil }

func newTestBot(t *testing.T, sender *fakeSender) (*Bot, *storage.SQLiteStore) {
	t.Helper()
	f, err := os.CreateTemp("", "wsotp-bot-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := storage.NewSQLiteStore(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewBot(Deps{
		Display: NewDisplay(sender, 100),
		Store:   store,
		Pool:    pool.New(store, remotetest.New(), plainOpener{}, 10, nil),
	}), store
}

func TestSelectAccount_UnknownAccount(t *testing.T) {
	sender := &fakeSender{err: errors.New("Forbidden: bot was blocked by the user")}
	b, store := newTestBot(t, sender)
	u, err := store.GetOrCreateUser(900, "owner", "Owner")
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBusWithBuffer(100)
	defer bus.Close()
	logs := bus.Subscribe()
	logger.SetEventBus(bus)
	defer logger.SetEventBus(nil)

	b.selectAccount(context.Background(), u, 42, 7, 9999)

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	edit, ok := sender.sent[0].(tgbotapi.EditMessageTextConfig)
	if !ok || edit.MessageID != 7 || !strings.Contains(edit.Text, "Account not found") {
		t.Errorf("sent = %#v", sender.sent[0])
	}

	warned := false
	for len(logs) > 0 {
		ev := <-logs
		if d, ok := ev.Data.(events.LogData); ok && d.Level == "warn" && strings.Contains(d.Message, "select account") {
			warned = true
		}
	}
	if !warned {
		t.Error("failed send should be logged as a warning")
	}
}
