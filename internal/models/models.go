package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a Telegram user who owns registration accounts.
type User struct {
	gorm.Model
	TelegramID        int64 `gorm:"uniqueIndex"`
	Username          string
	FirstName         string
	SelectedAccountID uint // 0 means "first account"
	LastActiveAt      *time.Time
	Accounts          []Account
}

// Account is one set of credentials on the remote registration API.
type Account struct {
	gorm.Model
	UserID     uint `gorm:"index;uniqueIndex:idx_user_username"`
	Position   int  // insertion order, used to break lease ties
	CustomName string
	Username   string `gorm:"uniqueIndex:idx_user_username"`
	// PasswordSealed is the securecookie-sealed password, never the plaintext.
	PasswordSealed string
	Token          string
	APIUserID      int64
	Nickname       string
	Active         bool `gorm:"default:true"`
	LastLoginAt    *time.Time
	AddedBy        int64 // Telegram ID of the admin who provisioned it
}

// Label returns the name shown to users for this account.
func (a *Account) Label() string {
	if a.CustomName != "" {
		return a.CustomName
	}
	return a.Username
}

// DailyCounter tracks per-user registration counts for one accounting day.
type DailyCounter struct {
	gorm.Model
	UserID  uint      `gorm:"uniqueIndex:idx_user_day"`
	Day     time.Time `gorm:"uniqueIndex:idx_user_day;type:date"` // Date only (no time)
	Added   int64
	Success int64
}

// SuccessMark records that a phone number's success was already counted on a day.
type SuccessMark struct {
	ID        uint      `gorm:"primarykey"`
	Day       time.Time `gorm:"uniqueIndex:idx_day_phone;type:date"`
	Phone     string    `gorm:"uniqueIndex:idx_day_phone"`
	UserID    uint      `gorm:"index"`
	CreatedAt time.Time
}

// GlobalCounter aggregates all users for one accounting day.
type GlobalCounter struct {
	gorm.Model
	Day     time.Time `gorm:"uniqueIndex;type:date"`
	Added   int64
	Success int64
	Deleted int64
}

// LedgerMeta is a single-row table holding ledger bookkeeping.
type LedgerMeta struct {
	ID        uint `gorm:"primarykey"`
	LastReset time.Time
	UpdatedAt time.Time
}
