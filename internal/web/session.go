package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flavorfind/internal/app"
	"flavorfind/internal/dashboard"
)

// Session is one browser's server-side state. Handlers hold mu for the
// whole request so a session sees its requests one at a time.
type Session struct {
	ID string

	mu       sync.Mutex
	state    app.State
	dash     *dashboard.Orchestrator
	lastSeen time.Time
}

// Registry maps session cookies to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	onCount  func(int)
}

// NewRegistry expires sessions idle for longer than ttl. onCount, when set,
// receives the live session count after every change.
func NewRegistry(ttl time.Duration, onCount func(int)) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		onCount:  onCount,
	}
}

func (r *Registry) countLocked() {
	if r.onCount != nil {
		r.onCount(len(r.sessions))
	}
}

// Get returns a live session and marks it used. Expired sessions are not
// returned; the next Sweep disposes of them.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if now.Sub(s.lastSeen) > r.ttl {
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

func (r *Registry) Create(st app.State) *Session {
	s := &Session{ID: uuid.NewString(), state: st}
	r.mu.Lock()
	defer r.mu.Unlock()
	s.lastSeen = r.now()
	r.sessions[s.ID] = s
	r.countLocked()
	return s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.countLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep unregisters idle sessions and returns them so the caller can end
// them.
func (r *Registry) Sweep() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	var expired []*Session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	if len(expired) > 0 {
		r.countLocked()
	}
	return expired
}
