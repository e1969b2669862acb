package proxy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"tilewhite/internal/page"
)

const (
	clientCookieName = "TILEWHITE_CLIENT"
	sessionTTL       = 30 * time.Minute
)

type sessionEntry struct {
	session   *page.Session
	target    string
	expiresAt time.Time
}

// sessionStore keeps the current page session of every client. Opening a
// new page replaces, and closes, the previous one.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	ttl      time.Duration
	clock    func() time.Time
}

func newSessionStore(clock func() time.Time) *sessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &sessionStore{sessions: make(map[string]sessionEntry), ttl: sessionTTL, clock: clock}
}

func (s *sessionStore) get(key string) (*page.Session, string, bool) {
	s.mu.Lock()
	e, ok := s.sessions[key]
	if ok && !e.expiresAt.IsZero() && s.clock().After(e.expiresAt) {
		delete(s.sessions, key)
		s.mu.Unlock()
		e.session.Close()
		return nil, "", false
	}
	s.mu.Unlock()
	if !ok {
		return nil, "", false
	}
	return e.session, e.target, true
}

// put stores sess for key, closing whatever was there and any expired
// sessions of other clients.
func (s *sessionStore) put(key, target string, sess *page.Session) {
	now := s.clock()
	var stale []*page.Session
	s.mu.Lock()
	if prev, ok := s.sessions[key]; ok && prev.session != sess {
		stale = append(stale, prev.session)
	}
	for k, e := range s.sessions {
		if k != key && !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			stale = append(stale, e.session)
			delete(s.sessions, k)
		}
	}
	s.sessions[key] = sessionEntry{session: sess, target: target, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	for _, old := range stale {
		old.Close()
	}
}

// drop closes and forgets the session of key, if any.
func (s *sessionStore) drop(key string) {
	s.mu.Lock()
	e, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if ok {
		e.session.Close()
	}
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) closeAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]sessionEntry)
	s.mu.Unlock()
	for _, e := range all {
		e.session.Close()
	}
}

func (s *sessionStore) cookieFor(key string) *http.Cookie {
	return &http.Cookie{
		Name:     clientCookieName,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.clock().Add(s.ttl),
	}
}

// clientKey returns the key identifying the caller, issuing a cookie
// when the request carries none.
func (s *Server) clientKey(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value
	}
	key := generateClientKey()
	http.SetCookie(w, s.sessions.cookieFor(key))
	return key
}

func generateClientKey() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:16])
}
