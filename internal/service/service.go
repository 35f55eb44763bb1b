// Package service wires extraction, the pool, the remote API and the
// tracker into the operations exposed to chat users and admins.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/extract"
	"wsotp/internal/ledger"
	"wsotp/internal/logger"
	"wsotp/internal/models"
	"wsotp/internal/pool"
	"wsotp/internal/registry"
	"wsotp/internal/remote"
	"wsotp/internal/storage"
	"wsotp/internal/tracker"
)

// Status labels for outcomes decided before tracking starts.
const (
	LabelInProgress    = "🔵 In Progress"
	LabelAlreadyExists = "🚫 Already Exists"
	LabelTokenExpired  = "❌ Token Expired"
	LabelAddFailed     = "❌ Add Failed"
	LabelTracked       = "⚠️ Already Tracking"
)

// Messenger posts and edits status lines in a chat.
type Messenger interface {
	tracker.Display
	Post(ctx context.Context, chatID int64, text string) (tracker.Handle, error)
}

// Sealer protects account passwords at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Service is the application layer shared by the bot and the control plane.
type Service struct {
	store     storage.Store
	client    remote.Client
	pool      *pool.Pool
	tracker   *tracker.Tracker
	ledger    *ledger.Ledger
	registry  *registry.Active
	messenger Messenger
	sealer    Sealer

	wg sync.WaitGroup
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     storage.Store
	Client    remote.Client
	Pool      *pool.Pool
	Tracker   *tracker.Tracker
	Ledger    *ledger.Ledger
	Registry  *registry.Active
	Messenger Messenger
	Sealer    Sealer
}

func New(d Deps) *Service {
	return &Service{
		store:     d.Store,
		client:    d.Client,
		pool:      d.Pool,
		tracker:   d.Tracker,
		ledger:    d.Ledger,
		registry:  d.Registry,
		messenger: d.Messenger,
		sealer:    d.Sealer,
	}
}

// SubmitResult reports how a batch of numbers was dispatched.
type SubmitResult struct {
	Found     int
	Submitted int
	// Exhausted is set when the batch stopped because no capacity was left.
	Exhausted bool
	// NoLease is set when capacity was expected but no account could be
	// leased, usually because none is logged in.
	NoLease bool
	// Capacity is the user's nominal capacity across active accounts.
	Capacity int
}

// SubmitText extracts numbers from text and submits each one on a leased
// account. Every number gets its own status message in chatID. Adding and
// tracking happen in the background; SubmitText returns once every number
// has a lease or the batch was cut short.
func (s *Service) SubmitText(ctx context.Context, chatID int64, userID uint, text string) (SubmitResult, error) {
	numbers := extract.Numbers(text)
	res := SubmitResult{Found: len(numbers)}
	if len(numbers) == 0 {
		return res, apperrors.ErrNoNumbers
	}

	if s.pool.ActiveSlots(userID) == 0 {
		s.pool.InitializeUser(ctx, userID)
	}

	for i, n := range numbers {
		if s.pool.RemainingCapacity(userID) <= 0 {
			res.Exhausted = true
			res.Capacity = s.nominalCapacity(userID)
			break
		}
		lease, ok := s.pool.Lease(userID)
		if !ok {
			res.NoLease = true
			break
		}

		serial := i + 1
		h, err := s.messenger.Post(ctx, chatID, tracker.FormatLine(serial, n.CC, n.Phone, tracker.LabelProcessing))
		if err != nil {
			s.pool.Release(lease.Token)
			return res, fmt.Errorf("post status for %s: %w", n.Phone, err)
		}

		res.Submitted++
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.submitOne(context.WithoutCancel(ctx), userID, serial, n, lease, h)
		}()
	}
	return res, nil
}

func (s *Service) nominalCapacity(userID uint) int {
	active := 0
	for _, acc := range s.pool.Accounts(userID) {
		if acc.Active {
			active++
		}
	}
	return active * s.pool.Capacity()
}

func (s *Service) submitOne(ctx context.Context, userID uint, serial int, n extract.Number, lease pool.Lease, h tracker.Handle) {
	show := func(label string) {
		if err := s.messenger.Render(ctx, h, tracker.FormatLine(serial, n.CC, n.Phone, label)); err != nil {
			logger.Warn("[service] update status for %s: %v", n.Phone, err)
		}
	}

	switch result := s.client.AddNumber(ctx, lease.Token, n.CC, n.Phone); result {
	case remote.AddAdded:
		if err := s.ledger.RecordAdded(userID); err != nil {
			logger.Error("[service] record added for user %d: %v", userID, err)
		}
		_, err := s.tracker.Track(tracker.Request{
			Phone:  n.Phone,
			CC:     n.CC,
			UserID: userID,
			Lease:  lease,
			Handle: h,
			Serial: serial,
			Status: LabelInProgress,
		})
		if err != nil {
			s.pool.Release(lease.Token)
			if errors.Is(err, apperrors.ErrAlreadyTracked) {
				show(LabelTracked)
				return
			}
			logger.Error("[service] track %s: %v", n.Phone, err)
			show(LabelAddFailed)
			return
		}
		show(LabelInProgress)
	case remote.AddAlreadyExists:
		s.pool.Release(lease.Token)
		show(LabelAlreadyExists)
	case remote.AddAuthExpired:
		s.pool.Release(lease.Token)
		s.pool.Invalidate(lease.Token)
		show(LabelTokenExpired)
	default:
		s.pool.Release(lease.Token)
		show(LabelAddFailed)
		logger.Warn("[service] add +%s %s on %s: %s", n.CC, n.Phone, lease.Label, result)
	}
}

// Wait blocks until every background submission has been handed to the
// tracker.
func (s *Service) Wait() {
	s.wg.Wait()
}

var codePattern = regexp.MustCompile(`^\d{4,6}$`)

// CodeResult is the outcome of submitting a confirmation code.
type CodeResult struct {
	Accepted bool
	Message  string
	Status   string
}

// SubmitCode forwards a confirmation code for a number that is waiting for
// one. The number must belong to userID. The status line is refreshed
// afterwards; success is still counted by the tracker alone.
func (s *Service) SubmitCode(ctx context.Context, userID uint, phone, code string) (CodeResult, error) {
	if !codePattern.MatchString(code) {
		return CodeResult{}, apperrors.ErrInvalidCode
	}
	entry, ok := s.registry.Get(phone)
	if !ok {
		return CodeResult{}, fmt.Errorf("code for %s: %w", phone, apperrors.ErrNotTracked)
	}
	if entry.UserID != userID {
		return CodeResult{}, fmt.Errorf("code for %s: %w", phone, apperrors.ErrNotOwned)
	}

	accepted, msg := s.client.SubmitCode(ctx, entry.Token, phone, code)
	res := CodeResult{Accepted: accepted, Message: msg}
	if !accepted {
		return res, nil
	}

	status := s.client.GetStatus(ctx, entry.Token, phone)
	res.Status = status.Label()
	line := tracker.FormatLine(entry.Serial, entry.CC, phone, res.Status)
	if err := s.messenger.Render(ctx, tracker.Handle{ChatID: entry.ChatID, MessageID: entry.MessageID}, line); err != nil {
		logger.Warn("[service] update status for %s after code: %v", phone, err)
	}
	return res, nil
}

// PhoneFromReply finds the tracked number in a status line the user replied
// to.
func (s *Service) PhoneFromReply(text string) (string, bool) {
	for _, n := range extract.Numbers(text) {
		if _, ok := s.registry.Get(n.Phone); ok {
			return n.Phone, true
		}
	}
	return "", false
}

// Refresh logs the user's accounts in again; accountID 0 means all.
func (s *Service) Refresh(ctx context.Context, userID, accountID uint) int {
	return s.pool.Refresh(ctx, userID, accountID)
}

// Settlements returns one page of settlements for the user's selected
// account.
func (s *Service) Settlements(ctx context.Context, userID uint, page int) (remote.SettlementPage, error) {
	if page < 1 {
		page = 1
	}
	if s.pool.ActiveSlots(userID) == 0 {
		s.pool.InitializeUser(ctx, userID)
	}
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return remote.SettlementPage{}, err
	}
	accounts, err := s.store.ListAccounts(userID)
	if err != nil {
		return remote.SettlementPage{}, err
	}
	if len(accounts) == 0 {
		return remote.SettlementPage{}, apperrors.ErrNoAccounts
	}

	acc := &accounts[0]
	for i := range accounts {
		if accounts[i].ID == user.SelectedAccountID {
			acc = &accounts[i]
		}
	}
	if acc.Token == "" || acc.APIUserID == 0 {
		return remote.SettlementPage{}, fmt.Errorf("settlements for %s: %w", acc.Label(), apperrors.ErrNotActive)
	}
	return s.client.ListSettlements(ctx, acc.Token, acc.APIUserID, page, SettlementPageSize)
}

// SettlementPageSize is the number of settlements shown per page.
const SettlementPageSize = 5

// AccountRequest provisions an account for a Telegram user.
type AccountRequest struct {
	TelegramID int64
	CustomName string
	Username   string
	Password   string
	AddedBy    int64
}

// AddAccount verifies the credentials with a login and stores the account.
// Re-adding a username updates its name and password. The first account of
// a user becomes the selected one.
func (s *Service) AddAccount(ctx context.Context, req AccountRequest) (*models.Account, bool, error) {
	session, err := s.client.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, false, err
	}
	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, false, fmt.Errorf("seal password: %w", err)
	}

	user, err := s.store.GetOrCreateUser(req.TelegramID, "", "")
	if err != nil {
		return nil, false, err
	}
	accounts, err := s.store.ListAccounts(user.ID)
	if err != nil {
		return nil, false, err
	}

	var acc *models.Account
	for i := range accounts {
		if accounts[i].Username == req.Username {
			acc = &accounts[i]
		}
	}

	created := acc == nil
	if created {
		acc = &models.Account{
			UserID:         user.ID,
			CustomName:     req.CustomName,
			Username:       req.Username,
			PasswordSealed: sealed,
			Active:         true,
			AddedBy:        req.AddedBy,
		}
		if err := s.store.CreateAccount(acc); err != nil {
			return nil, false, err
		}
	} else {
		if err := s.store.UpdateCredentials(acc.ID, req.CustomName, sealed); err != nil {
			return nil, false, err
		}
		acc.CustomName = req.CustomName
		acc.PasswordSealed = sealed
		s.pool.Forget(acc.ID)
	}

	if err := s.store.SaveSession(acc.ID, storage.AccountSession{
		Token:     session.Token,
		APIUserID: session.APIUserID,
		Nickname:  session.Nickname,
		LoginAt:   time.Now(),
	}); err != nil {
		return nil, false, err
	}
	acc.Token, acc.APIUserID, acc.Nickname, acc.Active = session.Token, session.APIUserID, session.Nickname, true

	if len(accounts) == 0 {
		if err := s.store.SetSelectedAccount(user.ID, acc.ID); err != nil {
			logger.Warn("[service] select first account for user %d: %v", user.ID, err)
		}
	}
	s.pool.InitializeUser(ctx, user.ID)

	logger.Info("[service] account %s provisioned for %d (created=%v)", acc.Label(), req.TelegramID, created)
	return acc, created, nil
}

// RemoveAccount deletes the user's account with the given username.
// Outstanding leases on it can still be released.
func (s *Service) RemoveAccount(telegramID int64, username string) error {
	user, err := s.store.GetUserByTelegramID(telegramID)
	if err != nil {
		return err
	}
	accounts, err := s.store.ListAccounts(user.ID)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if acc.Username != username {
			continue
		}
		if err := s.store.DeleteAccount(user.ID, acc.ID); err != nil {
			return err
		}
		s.pool.Forget(acc.ID)
		logger.Info("[service] account %s removed for %d", acc.Label(), telegramID)
		return nil
	}
	return fmt.Errorf("account %s for %d: %w", username, telegramID, apperrors.ErrNotFound)
}

// Accounts lists a Telegram user's accounts with their pool state.
func (s *Service) Accounts(telegramID int64) ([]pool.AccountView, error) {
	user, err := s.store.GetUserByTelegramID(telegramID)
	if err != nil {
		return nil, err
	}
	return s.pool.Accounts(user.ID), nil
}

// UserStats is a user's view of the current accounting day.
type UserStats struct {
	Day       string
	Added     int64
	Success   int64
	Remaining int
	Active    int
	Pending   int
}

// Stats summarizes the user's day.
func (s *Service) Stats(userID uint) (UserStats, error) {
	counts, err := s.ledger.UserDay(userID)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{
		Day:       s.ledger.Day().Format("2006-01-02"),
		Added:     counts.Added,
		Success:   counts.Success,
		Remaining: s.pool.RemainingCapacity(userID),
		Active:    s.pool.ActiveSlots(userID),
		Pending:   len(s.registry.ForUser(userID)),
	}, nil
}
