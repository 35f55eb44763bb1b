// Package remote talks to the number registration API.
package remote

import (
	"context"
	"encoding/json"
)

// Attempts for the calls that are retried on auth or transport failure.
const (
	LoginAttempts = 2
	AddAttempts   = 2
)

// ProbePhone is the sentinel number used to check whether a cached token
// still authenticates.
const ProbePhone = "0000000000"

// Client is the registration API as seen by the pool and the tracker.
type Client interface {
	Login(ctx context.Context, username, password string) (Session, error)
	AddNumber(ctx context.Context, token, cc, phone string) AddResult
	GetStatus(ctx context.Context, token, phone string) StatusResult
	DeleteNumber(ctx context.Context, token, recordID string) bool
	SubmitCode(ctx context.Context, token, phone, code string) (bool, string)
	ListSettlements(ctx context.Context, token string, apiUserID int64, page, pageSize int) (SettlementPage, error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	APIUserID int64
	Nickname  string
}

// AddResult is the outcome of adding a number.
type AddResult int

const (
	AddOtherError AddResult = iota
	AddAdded
	AddAlreadyExists
	AddAuthExpired
)

func (r AddResult) String() string {
	switch r {
	case AddAdded:
		return "added"
	case AddAlreadyExists:
		return "already_exists"
	case AddAuthExpired:
		return "auth_expired"
	default:
		return "error"
	}
}

// StatusResult is one status lookup. Auth expiry and malformed responses are
// reported through synthetic codes rather than errors.
type StatusResult struct {
	Code        StatusCode
	RecordID    string // empty when unknown
	ActualPhone string // number as echoed by the API, empty when unknown
	Message     string // remote message, if any
}

// Label returns the display text for the result.
func (r StatusResult) Label() string {
	return r.Code.Label()
}

// AuthExpired reports whether the token used for the lookup is no longer valid.
func (r StatusResult) AuthExpired() bool {
	return r.Code == StatusAuthExpired
}

// SettlementPage is one page of closing entries for an API user.
type SettlementPage struct {
	Records []Settlement `json:"records"`
	Total   int          `json:"total"`
	Pages   int          `json:"pages"`
	Page    int          `json:"page"`
	Size    int          `json:"size"`
}

// Settlement is a single closing entry.
type Settlement struct {
	ID           json.RawMessage `json:"id"`
	Count        float64         `json:"count"`
	ReceiptPrice *float64        `json:"receiptPrice"`
	GmtCreate    string          `json:"gmtCreate"`
	CountryName  string          `json:"countryName"`
}

// DefaultReceiptPrice applies when an entry carries no price.
const DefaultReceiptPrice = 0.10

// Amount is the settled value of the entry in USD.
func (s Settlement) Amount() float64 {
	price := DefaultReceiptPrice
	if s.ReceiptPrice != nil {
		price = *s.ReceiptPrice
	}
	return s.Count * price
}
