package storage

import (
	"time"

	"wsotp/internal/models"
)

// Store defines the interface for data persistence operations.
// The pool, ledger and bot depend on it rather than on SQLite directly,
// which keeps them testable against a temp-file database.
type Store interface {
	// User operations
	GetUserByID(id uint) (*models.User, error)
	GetUserByTelegramID(telegramID int64) (*models.User, error)
	GetOrCreateUser(telegramID int64, username, firstName string) (*models.User, error)
	ListUsers() ([]models.User, error)
	SetSelectedAccount(userID, accountID uint) error
	TouchUser(userID uint, at time.Time) error

	// Account operations
	ListAccounts(userID uint) ([]models.Account, error)
	GetAccount(userID, accountID uint) (*models.Account, error)
	CreateAccount(acc *models.Account) error
	SaveSession(accountID uint, session AccountSession) error
	UpdateCredentials(accountID uint, customName, passwordSealed string) error
	SetAccountActive(accountID uint, active bool) error
	DeleteAccount(userID, accountID uint) error

	// Ledger operations
	IncrementAdded(userID uint, day time.Time) error
	MarkSuccess(userID uint, phone string, day time.Time) (bool, error)
	IncrementDeleted(day time.Time, n int) error
	GetDailyCounter(userID uint, day time.Time) (*models.DailyCounter, error)
	ListDailyCounters(day time.Time) ([]models.DailyCounter, error)
	GetGlobalCounter(day time.Time) (*models.GlobalCounter, error)
	ListGlobalCounters(limit int) ([]models.GlobalCounter, error)
	Totals() (Totals, error)
	GetLastReset() (time.Time, error)
	SetLastReset(at time.Time) error

	// Lifecycle
	Ping() error
	Close() error
}

// AccountSession is the login state persisted after a successful remote login.
type AccountSession struct {
	Token     string
	APIUserID int64
	Nickname  string
	LoginAt   time.Time
}

// Totals aggregates every accounting day.
type Totals struct {
	Added   int64
	Success int64
	Deleted int64
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
