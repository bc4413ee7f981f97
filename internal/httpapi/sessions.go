package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultSessionTTL = 24 * time.Hour

// Sessions is an in-memory token table. Tokens are opaque uuids bound to
// the email they were issued for; entries lapse TTL after login.
type Sessions struct {
	TTL time.Duration

	now func() time.Time

	m       sync.Mutex
	byToken map[string]session
}

type session struct {
	email   string
	expires time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		TTL:     ttl,
		now:     time.Now,
		byToken: map[string]session{},
	}
}

// Create issues a fresh token bound to email.
func (s *Sessions) Create(email string) string {
	token := uuid.NewString()
	s.m.Lock()
	s.byToken[token] = session{email: email, expires: s.now().Add(s.TTL)}
	s.m.Unlock()
	return token
}

// Lookup resolves a token to its email. Expired entries are dropped on
// sight.
func (s *Sessions) Lookup(token string) (string, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	sess, found := s.byToken[token]
	if !found {
		return "", false
	}
	if s.now().After(sess.expires) {
		delete(s.byToken, token)
		return "", false
	}
	return sess.email, true
}

// Revoke drops a token and reports whether it existed.
func (s *Sessions) Revoke(token string) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if _, found := s.byToken[token]; !found {
		return false
	}
	delete(s.byToken, token)
	return true
}
