package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/ledger"
	"wsotp/internal/models"
	"wsotp/internal/pool"
	"wsotp/internal/registry"
	"wsotp/internal/remote"
	"wsotp/internal/remote/remotetest"
	"wsotp/internal/storage"
	"wsotp/internal/tracker"
)

// plainSealer stores passwords as they are.
type plainSealer struct{}

func (plainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }

func (plainSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", errors.New("empty")
	}
	return sealed, nil
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	posts  []string
	edits  map[int][]string
}

func (m *fakeMessenger) Post(ctx context.Context, chatID int64, text string) (tracker.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.posts = append(m.posts, text)
	return tracker.Handle{ChatID: chatID, MessageID: m.nextID}, nil
}

func (m *fakeMessenger) Render(ctx context.Context, h tracker.Handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edits == nil {
		m.edits = make(map[int][]string)
	}
	m.edits[h.MessageID] = append(m.edits[h.MessageID], text)
	return nil
}

// last returns the latest text of a message, falling back to its post.
func (m *fakeMessenger) last(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.edits[id]; len(e) > 0 {
		return e[len(e)-1]
	}
	if id >= 1 && id <= len(m.posts) {
		return m.posts[id-1]
	}
	return ""
}

type env struct {
	svc       *Service
	store     *storage.SQLiteStore
	remote    *remotetest.Fake
	pool      *pool.Pool
	tracker   *tracker.Tracker
	sched     *tracker.ManualScheduler
	ledger    *ledger.Ledger
	registry  *registry.Active
	messenger *fakeMessenger
	userID    uint
}

const (
	ownerTG = int64(500)
	chatID  = int64(42)
)

func newEnv(t *testing.T, capacity int, usernames ...string) *env {
	t.Helper()
	f, err := os.CreateTemp("", "wsotp-service-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := storage.NewSQLiteStore(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	u, err := store.GetOrCreateUser(ownerTG, "owner", "Owner")
	if err != nil {
		t.Fatal(err)
	}

	fake := remotetest.New()
	for _, name := range usernames {
		acc := &models.Account{UserID: u.ID, Username: name, PasswordSealed: "pw", Active: true}
		if err := store.CreateAccount(acc); err != nil {
			t.Fatal(err)
		}
		fake.Passwords[name] = "pw"
	}

	e := &env{
		store:     store,
		remote:    fake,
		registry:  registry.NewActive(),
		messenger: &fakeMessenger{},
		userID:    u.ID,
	}
	e.pool = pool.New(store, fake, plainSealer{}, capacity, nil)
	e.ledger = ledger.New(store, ledger.Config{Location: time.UTC, ResetHour: ledger.DefaultResetHour})
	e.sched = tracker.NewManualScheduler()
	e.tracker = tracker.New(tracker.Deps{
		Client:    fake,
		Pool:      e.pool,
		Ledger:    e.ledger,
		Registry:  e.registry,
		Display:   e.messenger,
		Scheduler: e.sched,
	}, tracker.Config{})
	t.Cleanup(e.tracker.Shutdown)

	e.svc = New(Deps{
		Store:     store,
		Client:    fake,
		Pool:      e.pool,
		Tracker:   e.tracker,
		Ledger:    e.ledger,
		Registry:  e.registry,
		Messenger: e.messenger,
		Sealer:    plainSealer{},
	})
	return e
}

func (e *env) submit(t *testing.T, text string) SubmitResult {
	t.Helper()
	res, err := e.svc.SubmitText(context.Background(), chatID, e.userID, text)
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	e.svc.Wait()
	return res
}

func TestSubmitText_AddsAndTracks(t *testing.T) {
	e := newEnv(t, 5, "a1")

	res := e.submit(t, "+229 47879817\n+44 7911 123456")
	if res.Found != 2 || res.Submitted != 2 {
		t.Fatalf("result = %+v, want 2 found and submitted", res)
	}
	if e.tracker.Len() != 2 {
		t.Errorf("tracked = %d, want 2", e.tracker.Len())
	}
	if got := e.messenger.last(1); got != "1. +229 47879817 🔵 In Progress" {
		t.Errorf("line 1 = %q", got)
	}
	if got := e.messenger.last(2); got != "2. +44 7911123456 🔵 In Progress" {
		t.Errorf("line 2 = %q", got)
	}
	if got := e.pool.RemainingCapacity(e.userID); got != 3 {
		t.Errorf("remaining = %d, want 3", got)
	}

	counts, err := e.ledger.UserDay(e.userID)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Added != 2 {
		t.Errorf("added = %d, want 2", counts.Added)
	}
}

func TestSubmitText_InitialLineIsProcessing(t *testing.T) {
	e := newEnv(t, 5, "a1")
	e.submit(t, "+229 47879817")

	e.messenger.mu.Lock()
	defer e.messenger.mu.Unlock()
	if len(e.messenger.posts) != 1 || !strings.HasSuffix(e.messenger.posts[0], tracker.LabelProcessing) {
		t.Errorf("posts = %v", e.messenger.posts)
	}
}

func TestSubmitText_AddOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result remote.AddResult
		label  string
		slots  int
	}{
		{"already exists", remote.AddAlreadyExists, LabelAlreadyExists, 1},
		{"other error", remote.AddOtherError, LabelAddFailed, 1},
		{"token expired", remote.AddAuthExpired, LabelTokenExpired, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 5, "a1")
			e.remote.AddResults = []remote.AddResult{tt.result}

			e.submit(t, "+229 47879817")

			if got := e.messenger.last(1); !strings.HasSuffix(got, tt.label) {
				t.Errorf("line = %q, want suffix %q", got, tt.label)
			}
			if e.tracker.Len() != 0 {
				t.Errorf("tracked = %d, want 0", e.tracker.Len())
			}
			if got := e.pool.InUse(); got != 0 {
				t.Errorf("in use = %d, want 0", got)
			}
			if got := e.pool.ActiveSlots(e.userID); got != tt.slots {
				t.Errorf("active slots = %d, want %d", got, tt.slots)
			}
		})
	}
}

func TestSubmitText_ExpiredTokenReloginsNextTime(t *testing.T) {
	e := newEnv(t, 5, "a1")
	e.remote.AddResults = []remote.AddResult{remote.AddAuthExpired}
	e.submit(t, "+229 47879817")

	e.remote.Expired[remotetest.Token("a1", 1)] = true
	e.submit(t, "+229 47879818")

	if got := e.remote.Logins("a1"); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	if e.tracker.Len() != 1 {
		t.Errorf("tracked = %d, want 1", e.tracker.Len())
	}
}

func TestSubmitText_ExpiredDuringPollReloginsNextTime(t *testing.T) {
	e := newEnv(t, 5, "a1")
	e.submit(t, "+229 47879817")

	expired := remotetest.Token("a1", 1)
	e.remote.Expired[expired] = true
	e.sched.Advance(2 * time.Second)
	if e.tracker.Len() != 0 {
		t.Fatal("expired token should end the chain")
	}

	e.submit(t, "+229 47879818")

	if got := e.remote.Logins("a1"); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	task, ok := e.tracker.Get("47879818")
	if !ok {
		t.Fatal("second number is not tracked")
	}
	if task.Lease.Token == expired {
		t.Errorf("second number leased the rejected token %q", expired)
	}
	if got := e.pool.Usage(expired); got != 0 {
		t.Errorf("rejected token usage = %d, want 0", got)
	}
}

func TestSubmitText_CapacityExhausted(t *testing.T) {
	e := newEnv(t, 1, "a1")

	res := e.submit(t, "+229 47879817\n+44 7911 123456")
	if !res.Exhausted || res.Submitted != 1 {
		t.Errorf("result = %+v, want exhausted after 1", res)
	}
	if res.Capacity != 1 {
		t.Errorf("capacity = %d, want 1", res.Capacity)
	}
}

func TestSubmitText_NoAccounts(t *testing.T) {
	e := newEnv(t, 5)

	res := e.submit(t, "+229 47879817")
	if res.Submitted != 0 || !res.Exhausted {
		t.Errorf("result = %+v, want nothing submitted", res)
	}
}

func TestSubmitText_NoNumbers(t *testing.T) {
	e := newEnv(t, 5, "a1")
	_, err := e.svc.SubmitText(context.Background(), chatID, e.userID, "hello there")
	if !errors.Is(err, apperrors.ErrNoNumbers) {
		t.Errorf("err = %v, want ErrNoNumbers", err)
	}
}

func TestSubmitCode(t *testing.T) {
	e := newEnv(t, 5, "a1")
	e.registry.Put(registry.Entry{
		Phone: "47879817", CC: "229", Token: "tok", UserID: e.userID,
		ChatID: chatID, MessageID: 9, Serial: 3,
	})
	e.remote.Statuses["47879817"] = []remote.StatusResult{{Code: remote.StatusSuccess}}
	ctx := context.Background()

	if _, err := e.svc.SubmitCode(ctx, e.userID, "47879817", "12ab"); !errors.Is(err, apperrors.ErrInvalidCode) {
		t.Errorf("bad code err = %v", err)
	}
	if _, err := e.svc.SubmitCode(ctx, e.userID, "11111111", "1234"); !errors.Is(err, apperrors.ErrNotTracked) {
		t.Errorf("untracked err = %v", err)
	}
	if _, err := e.svc.SubmitCode(ctx, e.userID+1, "47879817", "1234"); !errors.Is(err, apperrors.ErrNotOwned) {
		t.Errorf("foreign err = %v", err)
	}

	res, err := e.svc.SubmitCode(ctx, e.userID, "47879817", "1234")
	if err != nil || res.Accepted {
		t.Fatalf("rejected code = %+v, %v", res, err)
	}

	e.remote.CodeOK = true
	res, err = e.svc.SubmitCode(ctx, e.userID, "47879817", "123456")
	if err != nil || !res.Accepted {
		t.Fatalf("accepted code = %+v, %v", res, err)
	}
	if got := e.messenger.last(9); got != "3. +229 47879817 🟢 Success" {
		t.Errorf("line = %q", got)
	}

	// success is counted by the poller only
	counts, _ := e.ledger.UserDay(e.userID)
	if counts.Success != 0 {
		t.Errorf("success = %d, want 0", counts.Success)
	}
}

func TestPhoneFromReply(t *testing.T) {
	e := newEnv(t, 5)
	e.registry.Put(registry.Entry{Phone: "47879817", CC: "229", UserID: e.userID})

	if phone, ok := e.svc.PhoneFromReply("1. +229 47879817 🔵 In Progress"); !ok || phone != "47879817" {
		t.Errorf("PhoneFromReply = %q, %v", phone, ok)
	}
	if _, ok := e.svc.PhoneFromReply("1. +44 7911123456 🔵 In Progress"); ok {
		t.Error("untracked number matched")
	}
}

func TestAddAccount(t *testing.T) {
	e := newEnv(t, 5)
	e.remote.Passwords["fresh"] = "secret"
	ctx := context.Background()

	acc, created, err := e.svc.AddAccount(ctx, AccountRequest{
		TelegramID: 900, CustomName: "Main", Username: "fresh", Password: "secret", AddedBy: 1,
	})
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if !created || acc.Token != remotetest.Token("fresh", 1) {
		t.Errorf("account = %+v created=%v", acc, created)
	}

	user, err := e.store.GetUserByTelegramID(900)
	if err != nil {
		t.Fatal(err)
	}
	if user.SelectedAccountID != acc.ID {
		t.Errorf("selected = %d, want %d", user.SelectedAccountID, acc.ID)
	}
	if e.pool.ActiveSlots(user.ID) != 1 {
		t.Errorf("active slots = %d, want 1", e.pool.ActiveSlots(user.ID))
	}

	// re-adding updates instead of duplicating
	e.remote.Passwords["fresh"] = "rotated"
	acc2, created, err := e.svc.AddAccount(ctx, AccountRequest{
		TelegramID: 900, CustomName: "Renamed", Username: "fresh", Password: "rotated",
	})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if created || acc2.ID != acc.ID {
		t.Errorf("re-add created=%v id=%d, want update of %d", created, acc2.ID, acc.ID)
	}
	accounts, _ := e.store.ListAccounts(user.ID)
	if len(accounts) != 1 || accounts[0].CustomName != "Renamed" || accounts[0].PasswordSealed != "rotated" {
		t.Errorf("accounts = %+v", accounts)
	}
}

func TestAddAccount_LoginRejected(t *testing.T) {
	e := newEnv(t, 5)
	_, _, err := e.svc.AddAccount(context.Background(), AccountRequest{
		TelegramID: 900, Username: "ghost", Password: "nope",
	})
	if !errors.Is(err, apperrors.ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
	if _, err := e.store.GetUserByTelegramID(900); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("user should not be created, err = %v", err)
	}
}

func TestRemoveAccount(t *testing.T) {
	e := newEnv(t, 5, "a1", "a2")

	if err := e.svc.RemoveAccount(ownerTG, "a1"); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	views, err := e.svc.Accounts(ownerTG)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].Username != "a2" {
		t.Errorf("accounts = %+v", views)
	}
	if err := e.svc.RemoveAccount(ownerTG, "a1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t, 5, "a1")
	e.submit(t, "+229 47879817")

	st, err := e.svc.Stats(e.userID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Added != 1 || st.Remaining != 4 || st.Active != 1 {
		t.Errorf("stats = %+v", st)
	}
}
