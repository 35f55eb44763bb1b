// Package pool hands out per-user account tokens with bounded concurrent use.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"wsotp/internal/events"
	"wsotp/internal/logger"
	"wsotp/internal/metrics"
	"wsotp/internal/models"
	"wsotp/internal/remote"
	"wsotp/internal/storage"
)

// DefaultCapacity is the number of simultaneous leases one account allows.
const DefaultCapacity = 10

// Opener recovers a plaintext password from its sealed form.
type Opener interface {
	Open(sealed string) (string, error)
}

// Lease is one unit of an account's capacity, held by a tracked number.
type Lease struct {
	Token     string
	AccountID uint
	UserID    uint
	Label     string
	APIUserID int64
}

// AccountView describes one account together with its live pool state.
type AccountView struct {
	ID          uint
	Position    int
	Label       string
	Username    string
	Nickname    string
	Active      bool
	LoggedIn    bool
	Selected    bool
	Usage       int
	Capacity    int
	LastLoginAt *time.Time
}

// Target is an account to sweep during cleanup.
type Target struct {
	AccountID uint
	Label     string
	Token     string
}

type slot struct {
	accountID uint
	userID    uint
	position  int
	label     string
	token     string
	apiUserID int64
	usage     int
	retired   bool
}

func (s *slot) lease() Lease {
	return Lease{
		Token:     s.token,
		AccountID: s.accountID,
		UserID:    s.userID,
		Label:     s.label,
		APIUserID: s.apiUserID,
	}
}

// Pool tracks logged-in accounts and their in-flight usage. Leases live in
// memory only and are lost on restart.
type Pool struct {
	store    storage.Store
	client   remote.Client
	opener   Opener
	capacity int
	bus      *events.Bus

	mu     sync.Mutex
	slots  map[string]*slot // by token, includes retired slots still in use
	byUser map[uint][]*slot // live slots ordered by position
}

// New creates a pool. A capacity below 1 falls back to DefaultCapacity.
func New(store storage.Store, client remote.Client, opener Opener, capacity int, bus *events.Bus) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Pool{
		store:    store,
		client:   client,
		opener:   opener,
		capacity: capacity,
		bus:      bus,
		slots:    make(map[string]*slot),
		byUser:   make(map[uint][]*slot),
	}
}

// Capacity returns the per-account lease limit.
func (p *Pool) Capacity() int {
	return p.capacity
}

// InitializeUser makes sure the user's selected account (or the first one
// when the selection is stale) has a live slot. It returns the number of
// live slots for the user; failures are logged and yield 0.
func (p *Pool) InitializeUser(ctx context.Context, userID uint) int {
	user, err := p.store.GetUserByID(userID)
	if err != nil {
		logger.Warn("[pool] load user %d: %v", userID, err)
		return 0
	}
	accounts, err := p.store.ListAccounts(userID)
	if err != nil {
		logger.Warn("[pool] list accounts for user %d: %v", userID, err)
		return 0
	}
	if len(accounts) == 0 {
		return 0
	}

	acc := selectedAccount(user, accounts)
	if !acc.Active {
		logger.Info("[pool] user %d: selected account %s is inactive", userID, acc.Label())
		return p.ActiveSlots(userID)
	}

	if p.hasLiveSlot(acc.ID) {
		return p.ActiveSlots(userID)
	}

	if acc.Token != "" && p.tokenValid(ctx, acc.Token) {
		p.install(acc, remote.Session{Token: acc.Token, APIUserID: acc.APIUserID, Nickname: acc.Nickname})
		return p.ActiveSlots(userID)
	}

	if _, ok := p.login(ctx, acc); !ok {
		return 0
	}
	return p.ActiveSlots(userID)
}

func selectedAccount(user *models.User, accounts []models.Account) *models.Account {
	for i := range accounts {
		if accounts[i].ID == user.SelectedAccountID {
			return &accounts[i]
		}
	}
	return &accounts[0]
}

// tokenValid probes the API with the sentinel phone. Only an explicit auth
// failure invalidates the token.
func (p *Pool) tokenValid(ctx context.Context, token string) bool {
	res := p.client.GetStatus(ctx, token, remote.ProbePhone)
	return !res.AuthExpired()
}

// login authenticates acc, persists the session and installs a fresh slot.
// A failed login deactivates the account.
func (p *Pool) login(ctx context.Context, acc *models.Account) (*slot, bool) {
	password, err := p.opener.Open(acc.PasswordSealed)
	if err != nil {
		logger.Error("[pool] open password for %s: %v", acc.Label(), err)
		p.deactivate(acc)
		return nil, false
	}

	session, err := p.client.Login(ctx, acc.Username, password)
	if err != nil {
		logger.Warn("[pool] login %s failed: %v", acc.Label(), err)
		p.deactivate(acc)
		return nil, false
	}

	if err := p.store.SaveSession(acc.ID, storage.AccountSession{
		Token:     session.Token,
		APIUserID: session.APIUserID,
		Nickname:  session.Nickname,
		LoginAt:   time.Now(),
	}); err != nil {
		logger.Warn("[pool] persist session for %s: %v", acc.Label(), err)
	}

	logger.Info("[pool] logged in %s", acc.Label())
	return p.install(acc, session), true
}

func (p *Pool) deactivate(acc *models.Account) {
	if err := p.store.SetAccountActive(acc.ID, false); err != nil {
		logger.Warn("[pool] deactivate %s: %v", acc.Label(), err)
	}
	p.retire(acc.ID)
}

// install makes session the live slot for acc. A previous slot with a
// different token is retired: it can no longer be leased, but it stays
// addressable until its outstanding leases are released.
func (p *Pool) install(acc *models.Account, session remote.Session) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := p.byUser[acc.UserID]
	for i, s := range live {
		if s.accountID != acc.ID {
			continue
		}
		if s.token == session.Token {
			return s
		}
		p.retireLocked(s)
		live = append(live[:i], live[i+1:]...)
		break
	}

	s := &slot{
		accountID: acc.ID,
		userID:    acc.UserID,
		position:  acc.Position,
		label:     acc.Label(),
		token:     session.Token,
		apiUserID: session.APIUserID,
	}
	p.slots[s.token] = s
	live = append(live, s)
	sort.SliceStable(live, func(i, j int) bool { return live[i].position < live[j].position })
	p.byUser[acc.UserID] = live

	p.publish(s)
	return s
}

func (p *Pool) retire(accountID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for userID, live := range p.byUser {
		for i, s := range live {
			if s.accountID == accountID {
				p.retireLocked(s)
				p.byUser[userID] = append(live[:i], live[i+1:]...)
				return
			}
		}
	}
}

func (p *Pool) retireLocked(s *slot) {
	s.retired = true
	if s.usage == 0 {
		delete(p.slots, s.token)
	}
}

func (p *Pool) hasLiveSlot(accountID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, live := range p.byUser {
		for _, s := range live {
			if s.accountID == accountID {
				return true
			}
		}
	}
	return false
}

// Lease reserves capacity on the least-loaded live account of the user.
// Ties go to the earliest account. It returns false when every live slot
// is at capacity or the user has none.
func (p *Pool) Lease(userID uint) (Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *slot
	for _, s := range p.byUser[userID] {
		if s.usage >= p.capacity {
			continue
		}
		if best == nil || s.usage < best.usage {
			best = s
		}
	}
	if best == nil {
		return Lease{}, false
	}

	best.usage++
	metrics.LeasesInUse.Inc()
	p.publish(best)
	return best.lease(), true
}

// Release returns one unit of capacity to the account owning token.
// Unknown tokens and slots already at zero are ignored.
func (p *Pool) Release(token string) {
	if token == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[token]
	if !ok {
		logger.Debug("[pool] release of unknown token ignored")
		return
	}
	if s.usage == 0 {
		logger.Debug("[pool] release on idle slot %s ignored", s.label)
		return
	}

	s.usage--
	metrics.LeasesInUse.Dec()
	if s.retired && s.usage == 0 {
		delete(p.slots, token)
	}
	p.publish(s)
}

// RemainingCapacity is the number of additional leases the user could
// obtain, counting active accounts that are not logged in yet at full
// capacity. Store failures yield 0.
func (p *Pool) RemainingCapacity(userID uint) int {
	accounts, err := p.store.ListAccounts(userID)
	if err != nil {
		logger.Warn("[pool] list accounts for user %d: %v", userID, err)
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	usage := make(map[uint]int)
	for _, s := range p.byUser[userID] {
		usage[s.accountID] = s.usage
	}

	remaining := 0
	for _, acc := range accounts {
		if !acc.Active {
			continue
		}
		if u, ok := usage[acc.ID]; ok {
			remaining += p.capacity - u
			continue
		}
		remaining += p.capacity
	}
	return remaining
}

// SwitchSelected persists the user's account choice and retires the live
// slots of every other account, so new leases only go to the selection once
// it is installed by InitializeUser or Refresh. Outstanding leases on the
// retired slots can still be released. It returns false when the account
// does not belong to the user.
func (p *Pool) SwitchSelected(userID, accountID uint) bool {
	if _, err := p.store.GetAccount(userID, accountID); err != nil {
		logger.Debug("[pool] switch user %d to account %d: %v", userID, accountID, err)
		return false
	}
	if err := p.store.SetSelectedAccount(userID, accountID); err != nil {
		logger.Warn("[pool] switch user %d to account %d: %v", userID, accountID, err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.byUser[userID]
	kept := live[:0]
	for _, s := range live {
		if s.accountID == accountID {
			kept = append(kept, s)
			continue
		}
		p.retireLocked(s)
		p.publish(s)
	}
	p.byUser[userID] = kept
	return true
}

// Refresh logs accounts in again and installs the new tokens. An accountID
// of 0 refreshes every active account of the user. It returns the number of
// accounts that logged in successfully.
func (p *Pool) Refresh(ctx context.Context, userID, accountID uint) int {
	accounts, err := p.store.ListAccounts(userID)
	if err != nil {
		logger.Warn("[pool] list accounts for user %d: %v", userID, err)
		return 0
	}

	refreshed := 0
	for i := range accounts {
		acc := &accounts[i]
		if accountID != 0 && acc.ID != accountID {
			continue
		}
		if !acc.Active {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if _, ok := p.login(ctx, acc); ok {
			refreshed++
		}
	}

	p.InitializeUser(ctx, userID)
	logger.Info("[pool] user %d: refreshed %d account(s)", userID, refreshed)
	return refreshed
}

// Invalidate stops leasing the slot owning token after the remote side
// rejected it. The next InitializeUser logs the account in again.
func (p *Pool) Invalidate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[token]
	if !ok || s.retired {
		return
	}
	live := p.byUser[s.userID]
	for i, l := range live {
		if l == s {
			p.byUser[s.userID] = append(live[:i], live[i+1:]...)
			break
		}
	}
	p.retireLocked(s)
	logger.Info("[pool] token for %s invalidated", s.label)
}

// Forget drops the live slot of an account, typically after it was removed.
// Outstanding leases can still be released.
func (p *Pool) Forget(accountID uint) {
	p.retire(accountID)
}

// Accounts lists the user's accounts with their current usage.
func (p *Pool) Accounts(userID uint) []AccountView {
	user, err := p.store.GetUserByID(userID)
	if err != nil {
		return nil
	}
	accounts, err := p.store.ListAccounts(userID)
	if err != nil {
		return nil
	}
	selected := uint(0)
	if len(accounts) > 0 {
		selected = selectedAccount(user, accounts).ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	live := make(map[uint]*slot)
	for _, s := range p.byUser[userID] {
		live[s.accountID] = s
	}

	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		v := AccountView{
			ID:          acc.ID,
			Position:    acc.Position,
			Label:       acc.Label(),
			Username:    acc.Username,
			Nickname:    acc.Nickname,
			Active:      acc.Active,
			Selected:    acc.ID == selected,
			Capacity:    p.capacity,
			LastLoginAt: acc.LastLoginAt,
		}
		if s, ok := live[acc.ID]; ok {
			v.LoggedIn = true
			v.Usage = s.usage
		}
		views = append(views, v)
	}
	return views
}

// CleanupTargets returns every account of the user that holds a token.
func (p *Pool) CleanupTargets(userID uint) []Target {
	accounts, err := p.store.ListAccounts(userID)
	if err != nil {
		logger.Warn("[pool] list accounts for user %d: %v", userID, err)
		return nil
	}

	p.mu.Lock()
	live := make(map[uint]string)
	for _, s := range p.byUser[userID] {
		live[s.accountID] = s.token
	}
	p.mu.Unlock()

	targets := make([]Target, 0, len(accounts))
	for _, acc := range accounts {
		token := acc.Token
		if t, ok := live[acc.ID]; ok {
			token = t
		}
		if token == "" {
			continue
		}
		targets = append(targets, Target{AccountID: acc.ID, Label: acc.Label(), Token: token})
	}
	return targets
}

// Usage returns the current usage of the slot owning token, or 0.
func (p *Pool) Usage(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[token]; ok {
		return s.usage
	}
	return 0
}

// ActiveSlots returns the number of leasable slots of the user.
func (p *Pool) ActiveSlots(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUser[userID])
}

// InUse returns the total number of outstanding leases.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		n += s.usage
	}
	return n
}

// publish must be called with p.mu held.
func (p *Pool) publish(s *slot) {
	p.bus.Publish(events.Event{
		Type: events.EventPoolChanged,
		Data: events.PoolData{
			UserID:    s.userID,
			AccountID: s.accountID,
			Account:   s.label,
			Usage:     s.usage,
			Capacity:  p.capacity,
		},
	})
}
