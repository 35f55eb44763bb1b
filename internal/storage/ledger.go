package storage

import (
	"time"

	"wsotp/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementAdded bumps the per-user and global "added" counters for day.
func (s *SQLiteStore) IncrementAdded(userID uint, day time.Time) error {
	day = DayKey(day)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := bumpUser(tx, userID, day, "added", 1); err != nil {
			return err
		}
		return bumpGlobal(tx, day, "added", 1)
	})
	return translateError(err)
}

// MarkSuccess counts a success for phone at most once per day. It returns
// false without touching any counter when the phone was already counted.
func (s *SQLiteStore) MarkSuccess(userID uint, phone string, day time.Time) (bool, error) {
	day = DayKey(day)
	counted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		mark := models.SuccessMark{Day: day, Phone: phone, UserID: userID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mark)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := bumpUser(tx, userID, day, "success", 1); err != nil {
			return err
		}
		if err := bumpGlobal(tx, day, "success", 1); err != nil {
			return err
		}
		counted = true
		return nil
	})
	if err != nil {
		return false, translateError(err)
	}
	return counted, nil
}

func (s *SQLiteStore) IncrementDeleted(day time.Time, n int) error {
	if n <= 0 {
		return nil
	}
	return translateError(bumpGlobal(s.db, DayKey(day), "deleted", int64(n)))
}

// GetDailyCounter returns the user's counter for day, zero-valued if none exists.
func (s *SQLiteStore) GetDailyCounter(userID uint, day time.Time) (*models.DailyCounter, error) {
	day = DayKey(day)
	counter := models.DailyCounter{UserID: userID, Day: day}
	err := s.db.Where("user_id = ? AND day = ?", userID, day).Limit(1).Find(&counter).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &counter, nil
}

func (s *SQLiteStore) ListDailyCounters(day time.Time) ([]models.DailyCounter, error) {
	var counters []models.DailyCounter
	err := s.db.Where("day = ?", DayKey(day)).Order("success DESC, added DESC").Find(&counters).Error
	if err != nil {
		return nil, translateError(err)
	}
	return counters, nil
}

// GetGlobalCounter returns the global counter for day, zero-valued if none exists.
func (s *SQLiteStore) GetGlobalCounter(day time.Time) (*models.GlobalCounter, error) {
	day = DayKey(day)
	counter := models.GlobalCounter{Day: day}
	if err := s.db.Where("day = ?", day).Limit(1).Find(&counter).Error; err != nil {
		return nil, translateError(err)
	}
	return &counter, nil
}

// ListGlobalCounters returns the most recent days first.
func (s *SQLiteStore) ListGlobalCounters(limit int) ([]models.GlobalCounter, error) {
	var counters []models.GlobalCounter
	q := s.db.Order("day DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&counters).Error; err != nil {
		return nil, translateError(err)
	}
	return counters, nil
}

func (s *SQLiteStore) Totals() (Totals, error) {
	var t Totals
	err := s.db.Model(&models.GlobalCounter{}).
		Select("COALESCE(SUM(added), 0) AS added, COALESCE(SUM(success), 0) AS success, COALESCE(SUM(deleted), 0) AS deleted").
		Scan(&t).Error
	return t, translateError(err)
}

// GetLastReset returns the zero time if no rollover has happened yet.
func (s *SQLiteStore) GetLastReset() (time.Time, error) {
	var meta models.LedgerMeta
	res := s.db.Limit(1).Find(&meta, 1)
	if res.Error != nil {
		return time.Time{}, translateError(res.Error)
	}
	return meta.LastReset, nil
}

func (s *SQLiteStore) SetLastReset(at time.Time) error {
	meta := models.LedgerMeta{ID: 1, LastReset: at}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_reset", "updated_at"}),
	}).Create(&meta).Error
	return translateError(err)
}

func bumpUser(tx *gorm.DB, userID uint, day time.Time, column string, n int64) error {
	row := models.DailyCounter{UserID: userID, Day: day}
	setColumn(&row.Added, &row.Success, nil, column, n)
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{column: gorm.Expr(column+" + ?", n)}),
	}).Create(&row).Error
}

func bumpGlobal(tx *gorm.DB, day time.Time, column string, n int64) error {
	row := models.GlobalCounter{Day: day}
	setColumn(&row.Added, &row.Success, &row.Deleted, column, n)
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{column: gorm.Expr(column+" + ?", n)}),
	}).Create(&row).Error
}

// setColumn seeds the insert branch of an upsert with the same increment.
func setColumn(added, success, deleted *int64, column string, n int64) {
	switch column {
	case "added":
		*added = n
	case "success":
		*success = n
	case "deleted":
		if deleted != nil {
			*deleted = n
		}
	}
}
