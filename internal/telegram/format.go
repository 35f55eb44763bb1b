package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wsotp/internal/ledger"
	"wsotp/internal/pool"
	"wsotp/internal/remote"
	"wsotp/internal/service"
)

// Reply keyboard buttons.
const (
	btnRefresh     = "🚀 Refresh Server"
	btnSwitch      = "📱 Switch Account"
	btnSettlements = "📦 My Settlements"
	btnStats       = "📊 Statistics"
	btnAddAccount  = "➕ Add Account"
	btnListAll     = "📋 List Accounts"
)

// Callback data prefixes.
const (
	cbSelect     = "acc:"
	cbRefreshAll = "acc:refresh"
	cbClose      = "acc:close"
	cbSettlement = "set:"
)

const (
	msgNoAccounts    = "❌ No available accounts! Please refresh server first."
	msgNotYours      = "❌ This number is not active or doesn't belong to you."
	msgBadCode       = "❌ Invalid OTP format. Please send 4-6 digit OTP code."
	msgNoNumbers     = "❌ No valid phone number found!"
	msgAdminOnly     = "❌ Admin only command!"
	msgAccessDenied  = "❌ Access Denied!\n\nPlease contact admin for access."
	msgRefreshFailed = "❌ No accounts could be logged in!\n\nPlease contact admin to check your account credentials."
)

func mainKeyboard(admin bool) tgbotapi.ReplyKeyboardMarkup {
	var kb tgbotapi.ReplyKeyboardMarkup
	if admin {
		kb = tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAddAccount), tgbotapi.NewKeyboardButton(btnListAll)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnRefresh), tgbotapi.NewKeyboardButton(btnSwitch)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSettlements), tgbotapi.NewKeyboardButton(btnStats)),
		)
	} else {
		kb = tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnRefresh), tgbotapi.NewKeyboardButton(btnSwitch)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSettlements), tgbotapi.NewKeyboardButton(btnStats)),
		)
	}
	kb.ResizeKeyboard = true
	return kb
}

func selectedLabel(views []pool.AccountView) string {
	for _, v := range views {
		if v.Selected {
			return v.Label
		}
	}
	return "None"
}

func welcomeText(admin bool, views []pool.AccountView, active, remaining int) string {
	title := "🔥 WA OTP"
	if admin {
		title += " 👑"
	}
	return fmt.Sprintf("%s\n\n📱 Active Account: %s\n✅ Active Login: %d\n🎯 Remaining Checks: %d\n\n"+
		"💡 OTP Tip: Reply to any 'In Progress' number with OTP code",
		title, selectedLabel(views), active, remaining)
}

func refreshText(loggedIn, total int) string {
	if loggedIn == 0 {
		return msgRefreshFailed
	}
	return fmt.Sprintf("✅ Accounts Refreshed Successfully!\n\n📊 Result:\n• Successfully Logged In: %d\n• Failed: %d",
		loggedIn, total-loggedIn)
}

func submitText(res service.SubmitResult) string {
	switch {
	case res.NoLease, res.Exhausted && res.Capacity == 0:
		return msgNoAccounts
	case res.Exhausted:
		return fmt.Sprintf("🚀 Refresh Server.. Processing %d", res.Capacity)
	}
	return ""
}

func accountsText(views []pool.AccountView) string {
	var sb strings.Builder
	sb.WriteString("📱 Your Accounts 📱\n\nSelect an account to use:\n\n")
	for _, v := range views {
		status := "❌"
		if v.Active {
			status = "✅"
		}
		login := "🔒"
		if v.LoggedIn {
			login = "🔓"
		}
		mark := ""
		if v.Selected {
			mark = " 👑"
		}
		fmt.Fprintf(&sb, "%s%s %s%s\n   └─ 👤 Username: %s\n   └─ 🎯 In use: %d/%d\n\n",
			status, login, v.Label, mark, v.Username, v.Usage, v.Capacity)
	}
	return sb.String()
}

func accountsKeyboard(views []pool.AccountView) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, v := range views {
		label := v.Label
		if v.Selected {
			label += " 👑"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbSelect+strconv.FormatUint(uint64(v.ID), 10))))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh All", cbRefreshAll)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ Close", cbClose)),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func settlementsText(page remote.SettlementPage) string {
	if len(page.Records) == 0 {
		return "❌ No settlement records found for your account!"
	}
	var count, amount float64
	for _, r := range page.Records {
		count += r.Count
		amount += r.Amount()
	}
	pages := page.Pages
	if pages < 1 {
		pages = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 Your Settlement Records\n\n📊 Total Records: %d\n🔢 Total Count: %g\n💵 Amount: $%.2f\n📄 Page: %d/%d\n\n",
		page.Total, count, amount, page.Page, pages)
	for i, r := range page.Records {
		id := strings.Trim(string(r.ID), `"`)
		if len(id) > 8 {
			id = id[:8] + "..."
		}
		if id == "" || id == "null" {
			id = "N/A"
		}
		country := r.CountryName
		if country == "" {
			country = "N/A"
		}
		fmt.Fprintf(&sb, "%d. Settlement #%s\n📅 Date: %s\n🌍 Country: %s\n🔢 Count: %g\n\n",
			i+1, id, settlementDate(r.GmtCreate), country, r.Count)
	}
	return sb.String()
}

func settlementDate(raw string) string {
	if raw == "" {
		return "N/A"
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("02 January 2006, 15:04")
		}
	}
	return raw
}

func settlementsKeyboard(page remote.SettlementPage) tgbotapi.InlineKeyboardMarkup {
	var nav []tgbotapi.InlineKeyboardButton
	if page.Page > 1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Previous", cbSettlement+strconv.Itoa(page.Page-1)))
	}
	if page.Page < page.Pages {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", cbSettlement+strconv.Itoa(page.Page+1)))
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbSettlement+strconv.Itoa(page.Page))))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func userStatsText(st service.UserStats) string {
	return fmt.Sprintf("📊 Your Statistics 📊\n\n📅 Day: %s\n• 🔵 Added: %d\n• 🟢 Success: %d\n• ⏳ Tracking: %d\n• ✅ Active Login: %d\n• 🎯 Remaining Checks: %d",
		st.Day, st.Added, st.Success, st.Pending, st.Active, st.Remaining)
}

// summaryText renders a day across all users. names maps user id to a
// display name; missing users fall back to their id.
func summaryText(title string, s ledger.Summary, names map[uint]string) string {
	users := append([]ledger.UserCounts(nil), s.Users...)
	sort.SliceStable(users, func(i, j int) bool { return users[i].Success > users[j].Success })

	var sb strings.Builder
	fmt.Fprintf(&sb, "👑 %s 👑\n\n📅 Date: %s\n\n", title, s.Day.Format("2006-01-02"))
	fmt.Fprintf(&sb, "📊 OVERVIEW:\n• 👥 Users: %d\n• 📊 Checked: %d\n• 🟢 Success: %d\n• 🗑️ Deleted: %d\n\n",
		len(users), s.Added, s.Success, s.Deleted)
	if len(users) > 0 {
		sb.WriteString("🏆 USERS:\n")
		for i, u := range users {
			name, ok := names[u.UserID]
			if !ok || name == "" {
				name = fmt.Sprintf("User#%d", u.UserID)
			}
			fmt.Fprintf(&sb, "%d. %s: %d added, %d success\n", i+1, name, u.Added, u.Success)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "📈 ALL TIME:\n• Checked: %d\n• Success: %d\n• Deleted: %d",
		s.Totals.Added, s.Totals.Success, s.Totals.Deleted)
	return sb.String()
}
