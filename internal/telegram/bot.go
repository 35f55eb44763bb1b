package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/ledger"
	"wsotp/internal/logger"
	"wsotp/internal/models"
	"wsotp/internal/pool"
	"wsotp/internal/sentry"
	"wsotp/internal/service"
	"wsotp/internal/storage"
)

// Bot serves chat users and the admin over Telegram long polling.
type Bot struct {
	api     *tgbotapi.BotAPI
	display *Display
	svc     *service.Service
	store   storage.Store
	pool    *pool.Pool
	ledger  *ledger.Ledger
	adminID int64
}

// Deps are the collaborators of a Bot.
type Deps struct {
	API     *tgbotapi.BotAPI
	Display *Display
	Service *service.Service
	Store   storage.Store
	Pool    *pool.Pool
	Ledger  *ledger.Ledger
	AdminID int64
}

func NewBot(d Deps) *Bot {
	return &Bot{
		api:     d.API,
		display: d.Display,
		svc:     d.Service,
		store:   d.Store,
		pool:    d.Pool,
		ledger:  d.Ledger,
		adminID: d.AdminID,
	}
}

// Run receives updates until ctx is done. Each update is handled in its own
// goroutine so a slow batch never blocks other users.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	logger.Info("[telegram] bot @%s started", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logger.Info("[telegram] bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.safeHandle(ctx, update)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CaptureError(fmt.Errorf("panic: %v", r), "[telegram] update handler")
		}
	}()
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) isAdmin(id int64) bool {
	return b.adminID != 0 && id == b.adminID
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.display.Send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("[telegram] send to %d: %v", chatID, err)
	}
}

func (b *Bot) user(from *tgbotapi.User) (*models.User, error) {
	u, err := b.store.GetOrCreateUser(from.ID, from.UserName, from.FirstName)
	if err != nil {
		return nil, err
	}
	if err := b.store.TouchUser(u.ID, time.Now()); err != nil {
		logger.Debug("[telegram] touch user %d: %v", u.ID, err)
	}
	return u, nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	u, err := b.user(msg.From)
	if err != nil {
		sentry.CaptureError(err, "[telegram] load user")
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if msg.IsCommand() {
		b.handleCommand(ctx, u, msg)
		return
	}
	if msg.ReplyToMessage != nil {
		b.handleCode(ctx, u, chatID, msg.ReplyToMessage.Text, text)
		return
	}

	switch text {
	case btnRefresh:
		b.refresh(ctx, u, chatID)
	case btnSwitch:
		b.showAccounts(ctx, u, chatID)
	case btnSettlements:
		b.showSettlements(ctx, u, chatID, 0, 1)
	case btnStats:
		b.showStats(ctx, u, chatID)
	case btnAddAccount:
		if !b.isAdmin(u.TelegramID) {
			b.reply(ctx, chatID, msgAdminOnly)
			return
		}
		b.reply(ctx, chatID, "Usage: /addacc <telegram_id> <name> <username> <password>")
	case btnListAll:
		b.listAllAccounts(ctx, u, chatID)
	default:
		b.submit(ctx, u, chatID, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, u *models.User, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.start(ctx, u, chatID)
	case "stats":
		b.showStats(ctx, u, chatID)
	case "addacc":
		b.addAccount(ctx, u, chatID, args)
	case "removeacc":
		b.removeAccount(ctx, u, chatID, args)
	case "listacc":
		b.listAllAccounts(ctx, u, chatID)
	default:
		b.reply(ctx, chatID, "Unknown command. Send /start to begin.")
	}
}

func (b *Bot) start(ctx context.Context, u *models.User, chatID int64) {
	active := b.pool.InitializeUser(ctx, u.ID)
	admin := b.isAdmin(u.TelegramID)

	text := welcomeText(admin, b.pool.Accounts(u.ID), active, b.pool.RemainingCapacity(u.ID))
	if active == 0 && !admin {
		text = msgAccessDenied
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = mainKeyboard(admin)
	if _, err := b.display.Send(ctx, m); err != nil {
		logger.Warn("[telegram] welcome to %d: %v", chatID, err)
	}
}

func (b *Bot) submit(ctx context.Context, u *models.User, chatID int64, text string) {
	res, err := b.svc.SubmitText(ctx, chatID, u.ID, text)
	if errors.Is(err, apperrors.ErrNoNumbers) {
		b.reply(ctx, chatID, msgNoNumbers)
		return
	}
	if err != nil {
		sentry.CaptureErrorf(err, "[telegram] submit for user %d", u.ID)
	}
	if note := submitText(res); note != "" {
		b.reply(ctx, chatID, note)
	}
}

func (b *Bot) handleCode(ctx context.Context, u *models.User, chatID int64, replied, code string) {
	phone, ok := b.svc.PhoneFromReply(replied)
	if !ok {
		b.reply(ctx, chatID, msgNotYours)
		return
	}
	res, err := b.svc.SubmitCode(ctx, u.ID, phone, code)
	switch {
	case errors.Is(err, apperrors.ErrInvalidCode):
		b.reply(ctx, chatID, msgBadCode)
	case errors.Is(err, apperrors.ErrNotTracked), errors.Is(err, apperrors.ErrNotOwned):
		b.reply(ctx, chatID, msgNotYours)
	case err != nil:
		sentry.CaptureErrorf(err, "[telegram] code for %s", phone)
	case res.Accepted:
		b.reply(ctx, chatID, fmt.Sprintf("✅ OTP submitted successfully for %s", phone))
	default:
		b.reply(ctx, chatID, fmt.Sprintf("❌ OTP submission failed for %s: %s", phone, res.Message))
	}
}

func (b *Bot) refresh(ctx context.Context, u *models.User, chatID int64) {
	h, err := b.display.Post(ctx, chatID, "🔄 Refreshing your accounts...")
	if err != nil {
		logger.Warn("[telegram] refresh notice: %v", err)
		return
	}
	loggedIn := b.svc.Refresh(ctx, u.ID, 0)
	total := len(b.pool.Accounts(u.ID))
	if err := b.display.Render(ctx, h, refreshText(loggedIn, total)); err != nil {
		logger.Warn("[telegram] refresh result: %v", err)
	}
}

func (b *Bot) showAccounts(ctx context.Context, u *models.User, chatID int64) {
	views := b.pool.Accounts(u.ID)
	if len(views) == 0 {
		b.reply(ctx, chatID, "❌ No accounts found!\n\nPlease contact admin to add accounts for you.")
		return
	}
	m := tgbotapi.NewMessage(chatID, accountsText(views))
	m.ReplyMarkup = accountsKeyboard(views)
	if _, err := b.display.Send(ctx, m); err != nil {
		logger.Warn("[telegram] accounts menu: %v", err)
	}
}

// showSettlements sends page as a new message, or edits messageID when it
// is not zero.
func (b *Bot) showSettlements(ctx context.Context, u *models.User, chatID int64, messageID, page int) {
	text := "❌ No active accounts found!"
	var markup *tgbotapi.InlineKeyboardMarkup

	res, err := b.svc.Settlements(ctx, u.ID, page)
	switch {
	case errors.Is(err, apperrors.ErrNoAccounts):
	case err != nil:
		text = fmt.Sprintf("❌ Error loading settlements: %v", err)
	default:
		text = settlementsText(res)
		if len(res.Records) > 0 {
			kb := settlementsKeyboard(res)
			markup = &kb
		}
	}

	if messageID == 0 {
		m := tgbotapi.NewMessage(chatID, text)
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		_, err = b.display.Send(ctx, m)
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ReplyMarkup = markup
		_, err = b.display.Send(ctx, edit)
	}
	if err != nil {
		logger.Warn("[telegram] settlements: %v", err)
	}
}

func (b *Bot) showStats(ctx context.Context, u *models.User, chatID int64) {
	if b.isAdmin(u.TelegramID) {
		s, err := b.ledger.Snapshot()
		if err != nil {
			sentry.CaptureError(err, "[telegram] admin stats")
			return
		}
		b.reply(ctx, chatID, summaryText("ADMIN STATISTICS SUMMARY", s, b.userNames()))
		return
	}
	st, err := b.svc.Stats(u.ID)
	if err != nil {
		sentry.CaptureErrorf(err, "[telegram] stats for user %d", u.ID)
		return
	}
	b.reply(ctx, chatID, userStatsText(st))
}

func (b *Bot) userNames() map[uint]string {
	users, err := b.store.ListUsers()
	if err != nil {
		logger.Warn("[telegram] list users: %v", err)
		return nil
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		name := u.FirstName
		if u.Username != "" {
			name = "@" + u.Username
		}
		names[u.ID] = name
	}
	return names
}

func (b *Bot) addAccount(ctx context.Context, u *models.User, chatID int64, args []string) {
	if !b.isAdmin(u.TelegramID) {
		b.reply(ctx, chatID, msgAdminOnly)
		return
	}
	if len(args) != 4 {
		b.reply(ctx, chatID, "❌ Usage: /addacc <telegram_id> <name> <username> <password>")
		return
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "❌ Telegram id must be a number")
		return
	}

	h, err := b.display.Post(ctx, chatID, fmt.Sprintf("🔄 Verifying account %s...", args[2]))
	if err != nil {
		return
	}
	acc, created, err := b.svc.AddAccount(ctx, service.AccountRequest{
		TelegramID: tgID,
		CustomName: args[1],
		Username:   args[2],
		Password:   args[3],
		AddedBy:    u.TelegramID,
	})
	var text string
	switch {
	case apperrors.IsAuth(err):
		text = fmt.Sprintf("❌ Login failed for %s", args[2])
	case err != nil:
		text = fmt.Sprintf("❌ Error: %v", err)
	case created:
		text = fmt.Sprintf("✅ Account %s added for %d", acc.Label(), tgID)
	default:
		text = fmt.Sprintf("✅ Account %s updated for %d", acc.Label(), tgID)
	}
	if err := b.display.Render(ctx, h, text); err != nil {
		logger.Warn("[telegram] addacc result: %v", err)
	}
}

func (b *Bot) removeAccount(ctx context.Context, u *models.User, chatID int64, args []string) {
	if !b.isAdmin(u.TelegramID) {
		b.reply(ctx, chatID, msgAdminOnly)
		return
	}
	if len(args) != 2 {
		b.reply(ctx, chatID, "❌ Usage: /removeacc <telegram_id> <username>")
		return
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "❌ Telegram id must be a number")
		return
	}
	err = b.svc.RemoveAccount(tgID, args[1])
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		b.reply(ctx, chatID, fmt.Sprintf("❌ Account %s not found for user %d", args[1], tgID))
	case err != nil:
		b.reply(ctx, chatID, fmt.Sprintf("❌ Error: %v", err))
	default:
		b.reply(ctx, chatID, fmt.Sprintf("✅ Account %s removed from user %d", args[1], tgID))
	}
}

func (b *Bot) listAllAccounts(ctx context.Context, u *models.User, chatID int64) {
	if !b.isAdmin(u.TelegramID) {
		b.reply(ctx, chatID, msgAdminOnly)
		return
	}
	users, err := b.store.ListUsers()
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("❌ Error: %v", err))
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 All Accounts 📋\n\n")
	n := 0
	for _, owner := range users {
		views := b.pool.Accounts(owner.ID)
		if len(views) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "👤 %d", owner.TelegramID)
		if owner.Username != "" {
			fmt.Fprintf(&sb, " (@%s)", owner.Username)
		}
		sb.WriteString("\n")
		for _, v := range views {
			state := "🔒"
			if v.LoggedIn {
				state = "🔓"
			}
			fmt.Fprintf(&sb, "   %s %s [%s] %d/%d\n", state, v.Label, v.Username, v.Usage, v.Capacity)
			n++
		}
		sb.WriteString("\n")
	}
	if n == 0 {
		b.reply(ctx, chatID, "❌ No accounts in database!")
		return
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		logger.Debug("[telegram] answer callback: %v", err)
	}
	if q.From == nil || q.Message == nil {
		return
	}
	u, err := b.user(q.From)
	if err != nil {
		sentry.CaptureError(err, "[telegram] load user")
		return
	}
	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID

	switch data := q.Data; {
	case data == cbClose:
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
			logger.Debug("[telegram] delete menu: %v", err)
		}
	case data == cbRefreshAll:
		loggedIn := b.svc.Refresh(ctx, u.ID, 0)
		views := b.pool.Accounts(u.ID)
		edit := tgbotapi.NewEditMessageText(chatID, messageID, refreshText(loggedIn, len(views))+"\n\n"+accountsText(views))
		kb := accountsKeyboard(views)
		edit.ReplyMarkup = &kb
		if _, err := b.display.Send(ctx, edit); err != nil {
			logger.Warn("[telegram] refresh menu: %v", err)
		}
	case strings.HasPrefix(data, cbSelect):
		id, err := strconv.ParseUint(strings.TrimPrefix(data, cbSelect), 10, 64)
		if err != nil {
			return
		}
		b.selectAccount(ctx, u, chatID, messageID, uint(id))
	case strings.HasPrefix(data, cbSettlement):
		page, err := strconv.Atoi(strings.TrimPrefix(data, cbSettlement))
		if err != nil {
			return
		}
		b.showSettlements(ctx, u, chatID, messageID, page)
	}
}

func (b *Bot) selectAccount(ctx context.Context, u *models.User, chatID int64, messageID int, accountID uint) {
	if !b.pool.SwitchSelected(u.ID, accountID) {
		if _, err := b.display.Send(ctx, tgbotapi.NewEditMessageText(chatID, messageID, "❌ Account not found!")); err != nil {
			logger.Warn("[telegram] select account: %v", err)
		}
		return
	}
	loggedIn := b.pool.Refresh(ctx, u.ID, accountID)

	label := fmt.Sprint(accountID)
	for _, v := range b.pool.Accounts(u.ID) {
		if v.ID == accountID {
			label = v.Label
		}
	}
	text := fmt.Sprintf("✅ Switched to %s\n\n🎯 Remaining Checks: %d", label, b.pool.RemainingCapacity(u.ID))
	if loggedIn == 0 {
		text = fmt.Sprintf("❌ Login failed for %s\n\nPlease contact admin to check the credentials.", label)
	}
	if _, err := b.display.Send(ctx, tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		logger.Warn("[telegram] select account: %v", err)
	}
}

// NotifyAdmin sends the summary of a finished day to the admin.
func (b *Bot) NotifyAdmin(s ledger.Summary) {
	if b.adminID == 0 {
		return
	}
	b.reply(context.Background(), b.adminID, summaryText("DAILY RESET SUMMARY", s, b.userNames()))
}
