package server

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
)

// AdminSession is an authenticated control plane connection.
type AdminSession struct {
	ID        string
	Remote    string
	Session   *yamux.Session
	StartedAt time.Time
}

// SessionRegistry tracks live admin sessions so shutdown can close them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*AdminSession
}

// NewSessionRegistry creates a new registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*AdminSession),
	}
}

// Register adds a session under its ID.
func (r *SessionRegistry) Register(s *AdminSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Unregister removes a session.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with id, if any.
func (r *SessionRegistry) Get(id string) (*AdminSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns the live sessions, oldest first.
func (r *SessionRegistry) List() []*AdminSession {
	r.mu.RLock()
	out := make([]*AdminSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll closes every live session.
func (r *SessionRegistry) CloseAll() {
	for _, s := range r.List() {
		if s.Session != nil {
			s.Session.Close()
		}
	}
}
