package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"wsotp/internal/tracker"
)

// DefaultMessagesPerSecond stays under Telegram's global bot limit.
const DefaultMessagesPerSecond = 25

// Sender is the part of tgbotapi.BotAPI the display needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Display posts and edits status lines, pacing every call through one
// limiter so a large batch cannot trip flood control.
type Display struct {
	api     Sender
	limiter *rate.Limiter
}

// NewDisplay paces api at perSecond messages; zero or less uses the default.
func NewDisplay(api Sender, perSecond float64) *Display {
	if perSecond <= 0 {
		perSecond = DefaultMessagesPerSecond
	}
	return &Display{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
	}
}

// Post sends a new message and returns its handle for later edits.
func (d *Display) Post(ctx context.Context, chatID int64, text string) (tracker.Handle, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return tracker.Handle{}, err
	}
	sent, err := d.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return tracker.Handle{}, err
	}
	return tracker.Handle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Render replaces the text of a posted message. Edits that would not change
// the text are not errors.
func (d *Display) Render(ctx context.Context, h tracker.Handle, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.api.Send(tgbotapi.NewEditMessageText(h.ChatID, h.MessageID, text))
	if notModified(err) {
		return nil
	}
	return err
}

// Send delivers any prepared message through the limiter.
func (d *Display) Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	msg, err := d.api.Send(c)
	if notModified(err) {
		return msg, nil
	}
	return msg, err
}

func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
