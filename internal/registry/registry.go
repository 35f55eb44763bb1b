// Package registry indexes numbers that are waiting for a confirmation code.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Entry describes a number that can receive a confirmation code.
type Entry struct {
	Phone     string
	CC        string
	Token     string
	AccountID uint
	Account   string
	UserID    uint
	ChatID    int64
	MessageID int
	Serial    int
	Since     time.Time
}

// Active maps phone numbers to their pending entries.
type Active struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewActive() *Active {
	return &Active{
		entries: make(map[string]*Entry),
	}
}

// Put registers phone or refreshes its entry. The original registration
// time is kept across refreshes.
func (r *Active) Put(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[e.Phone]; ok {
		e.Since = old.Since
	}
	if e.Since.IsZero() {
		e.Since = time.Now()
	}
	r.entries[e.Phone] = &e
}

// Remove deletes phone and reports whether it was present.
func (r *Active) Remove(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[phone]
	delete(r.entries, phone)
	return ok
}

// Get returns a copy of the entry for phone.
func (r *Active) Get(phone string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[phone]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ForUser returns the user's entries ordered by registration time.
func (r *Active) ForUser(userID uint) []Entry {
	r.mu.RLock()
	out := make([]Entry, 0)
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Len returns the number of pending entries.
func (r *Active) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
