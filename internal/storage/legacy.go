package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/models"
)

// legacyAccount is one entry of the accounts.json file written by the
// previous deployment. Both the flat list layout and the per-user object
// layout use the same entry shape.
type legacyAccount struct {
	ID         int    `json:"id"`
	CustomName string `json:"custom_name"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Token      string `json:"token"`
	APIUserID  flexID `json:"api_user_id"`
	Nickname   string `json:"nickname"`
	Active     *bool  `json:"active"`
}

// flexID accepts ids written either as JSON numbers or as strings.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return nil
	}
	n, _ = strconv.ParseInt(str, 10, 64)
	*f = flexID(n)
	return nil
}

type legacyUser struct {
	Accounts          []legacyAccount `json:"accounts"`
	SelectedAccountID int             `json:"selected_account_id"`
	TelegramUsername  string          `json:"telegram_username"`
}

// ImportResult summarizes a legacy import.
type ImportResult struct {
	Users    int
	Accounts int
	Skipped  int
}

// ImportLegacyAccounts copies accounts from a legacy accounts.json into the
// store. Accounts whose username already exists for the user are skipped, so
// running the import twice is harmless. seal turns a plaintext password into
// its at-rest form.
func (s *SQLiteStore) ImportLegacyAccounts(path string, seal func(string) (string, error)) (ImportResult, error) {
	var result ImportResult

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return result, fmt.Errorf("parse %s: %w", path, err)
	}

	for key, blob := range raw {
		telegramID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			result.Skipped++
			continue
		}

		lu, err := decodeLegacyUser(blob)
		if err != nil {
			result.Skipped++
			continue
		}

		user, err := s.GetOrCreateUser(telegramID, lu.TelegramUsername, "")
		if err != nil {
			return result, err
		}
		result.Users++

		for i, la := range lu.Accounts {
			if la.Username == "" {
				result.Skipped++
				continue
			}
			sealed, err := seal(la.Password)
			if err != nil {
				return result, fmt.Errorf("seal password for %s: %w", la.Username, err)
			}
			name := la.CustomName
			if name == "" {
				name = fmt.Sprintf("Account %d", i+1)
			}
			acc := &models.Account{
				UserID:         user.ID,
				CustomName:     name,
				Username:       la.Username,
				PasswordSealed: sealed,
				Token:          la.Token,
				APIUserID:      int64(la.APIUserID),
				Nickname:       la.Nickname,
				Active:         true,
			}
			if err := s.CreateAccount(acc); err != nil {
				if errors.Is(err, apperrors.ErrDuplicateKey) {
					result.Skipped++
					continue
				}
				return result, err
			}
			if la.Active != nil && !*la.Active {
				if err := s.SetAccountActive(acc.ID, false); err != nil {
					return result, err
				}
			}
			result.Accounts++

			legacyID := la.ID
			if legacyID == 0 {
				legacyID = i + 1
			}
			if legacyID == lu.SelectedAccountID {
				if err := s.SetSelectedAccount(user.ID, acc.ID); err != nil {
					return result, err
				}
			}
		}
	}

	return result, nil
}

// decodeLegacyUser accepts either a bare account list or a user object.
func decodeLegacyUser(blob json.RawMessage) (legacyUser, error) {
	var lu legacyUser
	var list []legacyAccount
	if err := json.Unmarshal(blob, &list); err == nil {
		lu.Accounts = list
		lu.SelectedAccountID = 1
		return lu, nil
	}
	if err := json.Unmarshal(blob, &lu); err != nil {
		return lu, err
	}
	return lu, nil
}
