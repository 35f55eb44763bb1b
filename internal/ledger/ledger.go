// Package ledger keeps the per-day registration counters.
//
// An accounting day starts at a fixed local hour (16:00 in Asia/Dhaka by
// default) rather than at midnight. Counters are keyed by the accounting
// day, so a new day starts with fresh rows and nothing has to be rotated.
package ledger

import (
	"context"
	"sync"
	"time"

	"wsotp/internal/logger"
	"wsotp/internal/storage"
)

// Defaults for the accounting day boundary.
const (
	DefaultResetHour = 16
	DefaultTimezone  = "Asia/Dhaka"
)

// Config controls where accounting days begin.
type Config struct {
	Location  *time.Location
	ResetHour int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Counts is one user's activity for a day.
type Counts struct {
	Added   int64
	Success int64
}

// UserCounts pairs Counts with the user they belong to.
type UserCounts struct {
	UserID uint
	Counts
}

// Summary describes one accounting day across all users.
type Summary struct {
	Day     time.Time
	Added   int64
	Success int64
	Deleted int64
	Users   []UserCounts
	Totals  storage.Totals
}

// Ledger records added, successful and deleted numbers.
type Ledger struct {
	store     storage.Store
	loc       *time.Location
	resetHour int
	now       func() time.Time

	// mu serializes success check-and-set; the unique (day, phone) index
	// backs it up at the database level.
	mu sync.Mutex
}

// New creates a ledger over store.
func New(store storage.Store, cfg Config) *Ledger {
	loc := cfg.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(DefaultTimezone); err != nil {
			loc = time.UTC
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, loc: loc, resetHour: cfg.ResetHour, now: now}
}

// periodStart returns the most recent day boundary at or before t.
func (l *Ledger) periodStart(t time.Time) time.Time {
	local := t.In(l.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), l.resetHour, 0, 0, 0, l.loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// DayOf returns the accounting day t falls in, as a UTC date.
func (l *Ledger) DayOf(t time.Time) time.Time {
	return storage.DayKey(l.periodStart(t))
}

// Day returns the current accounting day.
func (l *Ledger) Day() time.Time {
	return l.DayOf(l.now())
}

// NextReset returns the first day boundary strictly after t.
func (l *Ledger) NextReset(t time.Time) time.Time {
	return l.periodStart(t).AddDate(0, 0, 1)
}

// Now is the ledger's clock.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// RecordAdded counts a number accepted by the remote API.
func (l *Ledger) RecordAdded(userID uint) error {
	if err := l.store.IncrementAdded(userID, l.Day()); err != nil {
		logger.Error("[ledger] record added for user %d: %v", userID, err)
		return err
	}
	return nil
}

// RecordSuccess counts a successful registration once per phone and day.
// It returns true only for the call that actually counted it.
func (l *Ledger) RecordSuccess(userID uint, phone string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	counted, err := l.store.MarkSuccess(userID, phone, l.Day())
	if err != nil {
		logger.Error("[ledger] record success for %s: %v", phone, err)
		return false
	}
	return counted
}

// RecordDeleted adds n cleanup deletions to the global counter.
func (l *Ledger) RecordDeleted(n int) {
	if n <= 0 {
		return
	}
	if err := l.store.IncrementDeleted(l.Day(), n); err != nil {
		logger.Error("[ledger] record %d deletions: %v", n, err)
	}
}

// UserDay returns the user's counts for the current accounting day.
func (l *Ledger) UserDay(userID uint) (Counts, error) {
	c, err := l.store.GetDailyCounter(userID, l.Day())
	if err != nil {
		return Counts{}, err
	}
	return Counts{Added: c.Added, Success: c.Success}, nil
}

// Snapshot summarizes the current accounting day.
func (l *Ledger) Snapshot() (Summary, error) {
	return l.summary(l.Day())
}

func (l *Ledger) summary(day time.Time) (Summary, error) {
	s := Summary{Day: day}

	g, err := l.store.GetGlobalCounter(day)
	if err != nil {
		return s, err
	}
	s.Added, s.Success, s.Deleted = g.Added, g.Success, g.Deleted

	rows, err := l.store.ListDailyCounters(day)
	if err != nil {
		return s, err
	}
	for _, r := range rows {
		s.Users = append(s.Users, UserCounts{UserID: r.UserID, Counts: Counts{Added: r.Added, Success: r.Success}})
	}

	if s.Totals, err = l.store.Totals(); err != nil {
		return s, err
	}
	return s, nil
}

// Rollover stamps the reset time when a new accounting day has begun since
// the last stamp. It returns the summary of the day that just ended, or
// false if the current day was already stamped.
func (l *Ledger) Rollover() (Summary, bool, error) {
	now := l.now()
	start := l.periodStart(now)

	last, err := l.store.GetLastReset()
	if err != nil {
		return Summary{}, false, err
	}
	if !last.IsZero() && !last.Before(start) {
		return Summary{}, false, nil
	}

	if err := l.store.SetLastReset(now); err != nil {
		return Summary{}, false, err
	}

	prev := storage.DayKey(start.AddDate(0, 0, -1))
	s, err := l.summary(prev)
	if err != nil {
		return Summary{}, false, err
	}
	logger.Info("[ledger] rolled over to %s (yesterday: %d added, %d success)",
		l.DayOf(now).Format("2006-01-02"), s.Added, s.Success)
	return s, true, nil
}

// Run calls Rollover at every day boundary until ctx is done, passing each
// finished day's summary to notify.
func (l *Ledger) Run(ctx context.Context, notify func(Summary)) {
	for {
		wait := time.Until(l.NextReset(l.now()))
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s, rolled, err := l.Rollover()
		if err != nil {
			logger.Error("[ledger] rollover: %v", err)
			continue
		}
		if rolled && notify != nil {
			notify(s)
		}
	}
}
