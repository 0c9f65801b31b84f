package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL matches the session cookie lifetime.
const DefaultSessionTTL = 24 * time.Hour

type session struct {
	profile   Profile
	expiresAt time.Time
}

// Sessions maps opaque session ids to profiles in memory. The dashboard is a
// single local process, so sessions end when it exits.
type Sessions struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]session
}

// NewSessions creates a session store. ttl <= 0 uses DefaultSessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{ttl: ttl, now: time.Now, data: make(map[string]session)}
}

// Create stores p and returns its session id.
func (s *Sessions) Create(p Profile) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.data[id] = session{profile: p, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return id
}

// Get returns the profile for id while the session is live.
func (s *Sessions) Get(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data[id]
	if !ok {
		return Profile{}, false
	}
	if s.now().After(sess.expiresAt) {
		delete(s.data, id)
		return Profile{}, false
	}
	return sess.profile, true
}

// Delete ends the session.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}
