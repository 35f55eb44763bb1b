package protocol

import (
	"encoding/json"
	"time"
)

// AuthRequest is the first message sent by the client on the first stream.
type AuthRequest struct {
	Token string `json:"token"`
}

// InitResponse is sent by the server to indicate success or failure of the handshake.
type InitResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Commands understood by the control plane.
const (
	CmdAccountsList   = "accounts.list"
	CmdAccountsAdd    = "accounts.add"
	CmdAccountsRemove = "accounts.remove"
	CmdPoolRefresh    = "pool.refresh"
	CmdPoolStatus     = "pool.status"
	CmdTaskCancel     = "task.cancel"
	CmdStats          = "stats"
	CmdWatch          = "watch"
)

// Request is sent on its own stream after the handshake. Each stream
// carries exactly one request.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// NewRequest encodes args into a request for command.
func NewRequest(command string, args interface{}) (Request, error) {
	req := Request{Command: command}
	if args == nil {
		return req, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return req, err
	}
	req.Args = raw
	return req, nil
}

// Response answers a Request. Data holds the command-specific payload.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one line of a watch stream.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// UserArgs selects a Telegram user.
type UserArgs struct {
	TelegramID int64 `json:"telegram_id"`
}

// AddAccountArgs provisions an account for a Telegram user.
type AddAccountArgs struct {
	TelegramID int64  `json:"telegram_id"`
	CustomName string `json:"custom_name"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// RemoveAccountArgs deletes a user's account by remote username.
type RemoveAccountArgs struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
}

// RefreshArgs re-logs a user's accounts; AccountID 0 means all of them.
type RefreshArgs struct {
	TelegramID int64 `json:"telegram_id"`
	AccountID  uint  `json:"account_id,omitempty"`
}

// CancelArgs stops tracking a phone without cleanup.
type CancelArgs struct {
	Phone string `json:"phone"`
}

// Account describes one account and its pool state.
type Account struct {
	ID       uint   `json:"id"`
	Label    string `json:"label"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
	LoggedIn bool   `json:"logged_in"`
	Selected bool   `json:"selected"`
	Usage    int    `json:"usage"`
	Capacity int    `json:"capacity"`
}

// AddAccountResult reports a provisioned account.
type AddAccountResult struct {
	Account Account `json:"account"`
	Created bool    `json:"created"`
}

// RefreshResult reports how many accounts logged in.
type RefreshResult struct {
	LoggedIn int `json:"logged_in"`
	Total    int `json:"total"`
}

// PoolStatus summarizes the live pool.
type PoolStatus struct {
	LeasesInUse int           `json:"leases_in_use"`
	Tracking    int           `json:"tracking"`
	Tasks       []TrackedTask `json:"tasks,omitempty"`
}

// TrackedTask is one number being polled.
type TrackedTask struct {
	Phone   string    `json:"phone"`
	CC      string    `json:"cc"`
	UserID  uint      `json:"user_id"`
	Account string    `json:"account"`
	Status  string    `json:"status"`
	Checks  int       `json:"checks"`
	Since   time.Time `json:"since"`
}

// Stats is the ledger view of the current accounting day.
type Stats struct {
	Day          string    `json:"day"`
	Added        int64     `json:"added"`
	Success      int64     `json:"success"`
	Deleted      int64     `json:"deleted"`
	Users        int       `json:"users"`
	TotalAdded   int64     `json:"total_added"`
	TotalSuccess int64     `json:"total_success"`
	TotalDeleted int64     `json:"total_deleted"`
	NextReset    time.Time `json:"next_reset"`
}
