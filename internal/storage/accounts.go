package storage

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/models"

	"gorm.io/gorm"
)

func (s *SQLiteStore) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUserByTelegramID(telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// GetOrCreateUser returns the user for a Telegram identity, creating it on
// first contact and refreshing the display names otherwise.
func (s *SQLiteStore) GetOrCreateUser(telegramID int64, username, firstName string) (*models.User, error) {
	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("telegram_id = ?", telegramID).Limit(1).Find(&user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			user = models.User{TelegramID: telegramID, Username: username, FirstName: firstName}
			return tx.Create(&user).Error
		}
		if (username != "" && username != user.Username) || (firstName != "" && firstName != user.FirstName) {
			if username != "" {
				user.Username = username
			}
			if firstName != "" {
				user.FirstName = firstName
			}
			return tx.Model(&user).Updates(map[string]interface{}{
				"username":   user.Username,
				"first_name": user.FirstName,
			}).Error
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (s *SQLiteStore) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("id").Find(&users).Error; err != nil {
		return nil, translateError(err)
	}
	return users, nil
}

// SetSelectedAccount persists the selection after checking ownership.
func (s *SQLiteStore) SetSelectedAccount(userID, accountID uint) error {
	if _, err := s.GetAccount(userID, accountID); err != nil {
		return err
	}
	err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("selected_account_id", accountID).Error
	return translateError(err)
}

func (s *SQLiteStore) TouchUser(userID uint, at time.Time) error {
	err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("last_active_at", at).Error
	return translateError(err)
}

// ListAccounts returns a user's accounts in insertion order.
func (s *SQLiteStore) ListAccounts(userID uint) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.Where("user_id = ?", userID).Order("position, id").Find(&accounts).Error
	if err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

// GetAccount returns an account only if it belongs to userID.
func (s *SQLiteStore) GetAccount(userID, accountID uint) (*models.Account, error) {
	var acc models.Account
	res := s.db.Where("id = ?", accountID).Limit(1).Find(&acc)
	if res.Error != nil {
		return nil, translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("account %d: %w", accountID, apperrors.ErrNotFound)
	}
	if acc.UserID != userID {
		return nil, fmt.Errorf("account %d: %w", accountID, apperrors.ErrNotOwned)
	}
	return &acc, nil
}

// CreateAccount appends an account after the user's existing ones.
func (s *SQLiteStore) CreateAccount(acc *models.Account) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxPos sql.NullInt64
		if err := tx.Model(&models.Account{}).Where("user_id = ?", acc.UserID).
			Select("MAX(position)").Row().Scan(&maxPos); err != nil {
			return err
		}
		acc.Position = 1
		if maxPos.Valid {
			acc.Position = int(maxPos.Int64) + 1
		}
		return tx.Create(acc).Error
	})
	return translateError(err)
}

func (s *SQLiteStore) SaveSession(accountID uint, session AccountSession) error {
	loginAt := session.LoginAt
	err := s.db.Model(&models.Account{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"token":         session.Token,
		"api_user_id":   session.APIUserID,
		"nickname":      session.Nickname,
		"last_login_at": &loginAt,
		"active":        true,
	}).Error
	return translateError(err)
}

// UpdateCredentials replaces the display name and sealed password of an
// account that is being re-provisioned.
func (s *SQLiteStore) UpdateCredentials(accountID uint, customName, passwordSealed string) error {
	err := s.db.Model(&models.Account{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"custom_name":     customName,
		"password_sealed": passwordSealed,
	}).Error
	return translateError(err)
}

func (s *SQLiteStore) SetAccountActive(accountID uint, active bool) error {
	err := s.db.Model(&models.Account{}).Where("id = ?", accountID).
		Update("active", active).Error
	return translateError(err)
}

// DeleteAccount hard-deletes the account so its username can be re-added,
// and clears the user's selection if it pointed at it.
func (s *SQLiteStore) DeleteAccount(userID, accountID uint) error {
	if _, err := s.GetAccount(userID, accountID); err != nil {
		return err
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&models.Account{}, accountID).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ? AND selected_account_id = ?", userID, accountID).
			Update("selected_account_id", 0).Error
	})
	return translateError(err)
}
