// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/remote"
)

// Fake is a scriptable remote.Client. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	// Passwords maps username to the accepted password. Logins for other
	// usernames fail.
	Passwords map[string]string
	// Expired holds tokens whose probes report auth expiry.
	Expired map[string]bool
	// AddResults is consumed per AddNumber call; Added is used once empty.
	AddResults []remote.AddResult
	// Statuses scripts GetStatus per phone; the last entry repeats.
	Statuses map[string][]remote.StatusResult
	// Records maps token to phone to record id, used by status lookups
	// that have no script and by DeleteNumber.
	Records map[string]map[string]string
	// FailDeletes makes DeleteNumber return false for these record ids.
	FailDeletes map[string]bool
	// CodeOK is returned by SubmitCode.
	CodeOK bool

	logins      map[string]int
	added       []string
	deleted     []string
	statusCalls map[string]int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Passwords:   make(map[string]string),
		Expired:     make(map[string]bool),
		Statuses:    make(map[string][]remote.StatusResult),
		Records:     make(map[string]map[string]string),
		FailDeletes: make(map[string]bool),
		logins:      make(map[string]int),
		statusCalls: make(map[string]int),
	}
}

// Token is the token the fake issues for the n-th login of username.
func Token(username string, n int) string {
	return fmt.Sprintf("%s-token-%d", username, n)
}

func (f *Fake) Login(ctx context.Context, username, password string) (remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if want, ok := f.Passwords[username]; !ok || want != password {
		return remote.Session{}, fmt.Errorf("login %s: %w", username, apperrors.ErrAuthFailed)
	}
	f.logins[username]++
	n := f.logins[username]
	return remote.Session{Token: Token(username, n), APIUserID: int64(1000 + n), Nickname: username}, nil
}

func (f *Fake) AddNumber(ctx context.Context, token, cc, phone string) remote.AddResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, cc+phone)
	if len(f.AddResults) == 0 {
		return remote.AddAdded
	}
	r := f.AddResults[0]
	f.AddResults = f.AddResults[1:]
	return r
}

func (f *Fake) GetStatus(ctx context.Context, token, phone string) remote.StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Expired[token] {
		return remote.StatusResult{Code: remote.StatusAuthExpired}
	}
	if phone == remote.ProbePhone {
		return remote.StatusResult{Code: remote.StatusNoData}
	}
	if script, ok := f.Statuses[phone]; ok && len(script) > 0 {
		i := f.statusCalls[phone]
		f.statusCalls[phone]++
		if i >= len(script) {
			i = len(script) - 1
		}
		return script[i]
	}
	if id, ok := f.Records[token][phone]; ok {
		return remote.StatusResult{Code: remote.StatusInProgress, RecordID: id, ActualPhone: phone}
	}
	return remote.StatusResult{Code: remote.StatusNoData}
}

func (f *Fake) DeleteNumber(ctx context.Context, token, recordID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if recordID == "" || f.FailDeletes[recordID] {
		return false
	}
	f.deleted = append(f.deleted, recordID)
	return true
}

func (f *Fake) SubmitCode(ctx context.Context, token, phone, code string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CodeOK {
		return true, "OTP verified successfully"
	}
	return false, "wrong code"
}

func (f *Fake) ListSettlements(ctx context.Context, token string, apiUserID int64, page, pageSize int) (remote.SettlementPage, error) {
	return remote.SettlementPage{Page: page, Size: pageSize}, nil
}

// Logins returns how many successful logins username made.
func (f *Fake) Logins(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins[username]
}

// Added returns the cc+phone of every AddNumber call.
func (f *Fake) Added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

// Deleted returns the record ids passed to successful DeleteNumber calls.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// StatusCalls returns how many scripted status lookups phone had.
func (f *Fake) StatusCalls(phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[phone]
}

var _ remote.Client = (*Fake)(nil)
