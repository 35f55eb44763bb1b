package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/models"
)

// setupTestStore creates a temp-file SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// Use a temp file so CGO sqlite works (some drivers don't support :memory: + multiple conns)
	f, err := os.CreateTemp("", "wsotp-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := NewSQLiteStore(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// createTestUser inserts a minimal user and returns its ID.
func createTestUser(t *testing.T, store *SQLiteStore, telegramID int64) uint {
	t.Helper()
	u, err := store.GetOrCreateUser(telegramID, "tester", "Test")
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return u.ID
}

func createTestAccount(t *testing.T, store *SQLiteStore, userID uint, username string) *models.Account {
	t.Helper()
	acc := &models.Account{UserID: userID, Username: username, CustomName: username, Active: true}
	if err := store.CreateAccount(acc); err != nil {
		t.Fatalf("createTestAccount(%q): %v", username, err)
	}
	return acc
}

// TestCreateAccount_UniqueConstraint verifies that adding the same username
// twice for one user returns ErrDuplicateKey instead of a raw SQLite error.
func TestCreateAccount_UniqueConstraint(t *testing.T) {
	store := setupTestStore(t)
	userID := createTestUser(t, store, 100)

	createTestAccount(t, store, userID, "alice")

	err := store.CreateAccount(&models.Account{UserID: userID, Username: "alice"})
	if err == nil {
		t.Fatal("expected error for duplicate username, got nil")
	}
	if !errors.Is(err, apperrors.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got: %v", err)
	}
}

func TestCreateAccount_PositionsFollowInsertionOrder(t *testing.T) {
	store := setupTestStore(t)
	userID := createTestUser(t, store, 100)

	for _, name := range []string{"one", "two", "three"} {
		createTestAccount(t, store, userID, name)
	}

	accounts, err := store.ListAccounts(userID)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	for i, acc := range accounts {
		if acc.Position != i+1 {
			t.Errorf("account %q position = %d, want %d", acc.Username, acc.Position, i+1)
		}
	}
	if accounts[0].Username != "one" || accounts[2].Username != "three" {
		t.Errorf("unexpected order: %q, %q", accounts[0].Username, accounts[2].Username)
	}
}

func TestGetAccount_Ownership(t *testing.T) {
	store := setupTestStore(t)
	owner := createTestUser(t, store, 100)
	other := createTestUser(t, store, 200)
	acc := createTestAccount(t, store, owner, "alice")

	if _, err := store.GetAccount(other, acc.ID); !errors.Is(err, apperrors.ErrNotOwned) {
		t.Errorf("expected ErrNotOwned, got %v", err)
	}
	if _, err := store.GetAccount(owner, acc.ID+100); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetSelectedAccount(other, acc.ID); err == nil {
		t.Error("SetSelectedAccount should reject a foreign account")
	}
}

func TestDeleteAccount_ClearsSelection(t *testing.T) {
	store := setupTestStore(t)
	userID := createTestUser(t, store, 100)
	acc := createTestAccount(t, store, userID, "alice")

	if err := store.SetSelectedAccount(userID, acc.ID); err != nil {
		t.Fatalf("SetSelectedAccount: %v", err)
	}
	if err := store.DeleteAccount(userID, acc.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	user, err := store.GetUserByID(userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.SelectedAccountID != 0 {
		t.Errorf("SelectedAccountID = %d, want 0", user.SelectedAccountID)
	}

	// Username is free again after a hard delete.
	createTestAccount(t, store, userID, "alice")
}

func TestSaveSession(t *testing.T) {
	store := setupTestStore(t)
	userID := createTestUser(t, store, 100)
	acc := createTestAccount(t, store, userID, "alice")
	if err := store.SetAccountActive(acc.ID, false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}

	err := store.SaveSession(acc.ID, AccountSession{Token: "tok", APIUserID: 42, Nickname: "Al", LoginAt: time.Now()})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := store.GetAccount(userID, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Token != "tok" || got.APIUserID != 42 || got.Nickname != "Al" {
		t.Errorf("session not persisted: %+v", got)
	}
	if !got.Active {
		t.Error("successful login should reactivate the account")
	}
	if got.LastLoginAt == nil {
		t.Error("LastLoginAt should be set")
	}
}

func TestMarkSuccess_OncePerDay(t *testing.T) {
	store := setupTestStore(t)
	userID := createTestUser(t, store, 100)
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	counted, err := store.MarkSuccess(userID, "8801711111111", day)
	if err != nil || !counted {
		t.Fatalf("first MarkSuccess = %v, %v; want true, nil", counted, err)
	}
	counted, err = store.MarkSuccess(userID, "8801711111111", day)
	if err != nil || counted {
		t.Fatalf("second MarkSuccess = %v, %v; want false, nil", counted, err)
	}

	// A new accounting day counts again.
	counted, err = store.MarkSuccess(userID, "8801711111111", day.AddDate(0, 0, 1))
	if err != nil || !counted {
		t.Fatalf("next-day MarkSuccess = %v, %v; want true, nil", counted, err)
	}

	c, err := store.GetDailyCounter(userID, day)
	if err != nil {
		t.Fatalf("GetDailyCounter: %v", err)
	}
	if c.Success != 1 {
		t.Errorf("user success = %d, want 1", c.Success)
	}
	g, err := store.GetGlobalCounter(day)
	if err != nil {
		t.Fatalf("GetGlobalCounter: %v", err)
	}
	if g.Success != 1 {
		t.Errorf("global success = %d, want 1", g.Success)
	}
}

func TestCounters_AndTotals(t *testing.T) {
	store := setupTestStore(t)
	alice := createTestUser(t, store, 100)
	bob := createTestUser(t, store, 200)
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.IncrementAdded(alice, day); err != nil {
			t.Fatalf("IncrementAdded: %v", err)
		}
	}
	if err := store.IncrementAdded(bob, day.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("IncrementAdded: %v", err)
	}
	if err := store.IncrementDeleted(day, 4); err != nil {
		t.Fatalf("IncrementDeleted: %v", err)
	}
	if err := store.IncrementDeleted(day, 0); err != nil {
		t.Fatalf("IncrementDeleted(0): %v", err)
	}

	c, err := store.GetDailyCounter(alice, day)
	if err != nil {
		t.Fatalf("GetDailyCounter: %v", err)
	}
	if c.Added != 3 {
		t.Errorf("alice added = %d, want 3", c.Added)
	}

	totals, err := store.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Added != 4 || totals.Deleted != 4 || totals.Success != 0 {
		t.Errorf("totals = %+v, want added=4 deleted=4 success=0", totals)
	}

	history, err := store.ListGlobalCounters(10)
	if err != nil {
		t.Fatalf("ListGlobalCounters: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 days of history, got %d", len(history))
	}
	if !history[0].Day.After(history[1].Day) {
		t.Error("history should be newest first")
	}
}

func TestLastReset(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetLastReset()
	if err != nil {
		t.Fatalf("GetLastReset: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time before any reset, got %v", got)
	}

	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := store.SetLastReset(at.Add(time.Duration(i) * time.Hour)); err != nil {
			t.Fatalf("SetLastReset: %v", err)
		}
	}
	got, err = store.GetLastReset()
	if err != nil {
		t.Fatalf("GetLastReset: %v", err)
	}
	if !got.Equal(at.Add(time.Hour)) {
		t.Errorf("LastReset = %v, want %v", got, at.Add(time.Hour))
	}
}

func TestImportLegacyAccounts(t *testing.T) {
	store := setupTestStore(t)
	path := filepath.Join(t.TempDir(), "accounts.json")
	legacy := `{
		"100": [
			{"username": "old1", "password": "p1", "token": "t1"},
			{"username": "old2", "password": "p2", "active": false}
		],
		"200": {
			"accounts": [
				{"id": 1, "custom_name": "Main", "username": "new1", "password": "p3", "api_user_id": "77"},
				{"id": 2, "custom_name": "Backup", "username": "new2", "password": "p4"}
			],
			"selected_account_id": 2,
			"telegram_username": "bob"
		},
		"not-a-number": []
	}`
	if err := os.WriteFile(path, []byte(legacy), 0600); err != nil {
		t.Fatal(err)
	}
	seal := func(p string) (string, error) { return "sealed:" + p, nil }

	res, err := store.ImportLegacyAccounts(path, seal)
	if err != nil {
		t.Fatalf("ImportLegacyAccounts: %v", err)
	}
	if res.Users != 2 || res.Accounts != 4 || res.Skipped != 1 {
		t.Errorf("result = %+v, want users=2 accounts=4 skipped=1", res)
	}

	u1, err := store.GetUserByTelegramID(100)
	if err != nil {
		t.Fatalf("GetUserByTelegramID(100): %v", err)
	}
	accs, _ := store.ListAccounts(u1.ID)
	if len(accs) != 2 {
		t.Fatalf("user 100 accounts = %d, want 2", len(accs))
	}
	if accs[0].PasswordSealed != "sealed:p1" || accs[0].Token != "t1" {
		t.Errorf("unexpected first account: %+v", accs[0])
	}
	if accs[1].Active {
		t.Error("inactive legacy account should stay inactive")
	}

	u2, err := store.GetUserByTelegramID(200)
	if err != nil {
		t.Fatalf("GetUserByTelegramID(200): %v", err)
	}
	accs, _ = store.ListAccounts(u2.ID)
	if u2.SelectedAccountID != accs[1].ID {
		t.Errorf("SelectedAccountID = %d, want %d", u2.SelectedAccountID, accs[1].ID)
	}
	if accs[0].APIUserID != 77 {
		t.Errorf("APIUserID = %d, want 77", accs[0].APIUserID)
	}

	// Second run skips everything.
	res, err = store.ImportLegacyAccounts(path, seal)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.Accounts != 0 {
		t.Errorf("second import created %d accounts, want 0", res.Accounts)
	}
}

func TestImportLegacyAccounts_MissingFile(t *testing.T) {
	store := setupTestStore(t)
	res, err := store.ImportLegacyAccounts(filepath.Join(t.TempDir(), "nope.json"), nil)
	if err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	if res.Accounts != 0 {
		t.Errorf("expected nothing imported, got %+v", res)
	}
}
