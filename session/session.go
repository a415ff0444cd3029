// Package session holds the authenticated identity for the whole client.
// A Store is the only owner of the bearer credential; everything else reads
// it through Current or Token.
package session

import (
	"encoding/json"
	"log"
	"sync"

	"lms-realtime/middleware"
	"lms-realtime/models"
	"lms-realtime/store"
)

type Listener func(s *models.Session)

type Store struct {
	kv store.KV

	mu        sync.RWMutex
	current   *models.Session
	listeners map[int]Listener
	nextID    int
}

// New restores a previously persisted session, if one is usable. Absent,
// sentinel or expired credentials are cleared from storage.
func New(kv store.KV) *Store {
	s := &Store{kv: kv, listeners: make(map[int]Listener)}
	s.restore()
	return s
}

func (s *Store) restore() {
	token, err := s.kv.Get(store.KeyToken)
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("[SESSION] Failed to read stored token: %v", err)
		}
		s.wipe()
		return
	}

	sess, err := sessionFromToken(token)
	if err != nil {
		log.Printf("[SESSION] Discarding stored token: %v", err)
		s.wipe()
		return
	}

	if raw, err := s.kv.Get(store.KeyUser); err == nil {
		var u models.User
		if json.Unmarshal([]byte(raw), &u) == nil && u.ID == sess.User.ID {
			mergeUser(&sess.User, u)
		}
	}
	s.current = sess
	log.Printf("[SESSION] Restored session for user %s", sess.User.ID)
}

func sessionFromToken(token string) (*models.Session, error) {
	claims, err := middleware.ParseToken(token)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		Token: token,
		User: models.User{
			ID:   claims.UserID,
			Name: claims.Name,
			Role: claims.Role,
		},
	}, nil
}

// mergeUser fills profile fields the token does not carry.
func mergeUser(dst *models.User, src models.User) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Role == "" {
		dst.Role = src.Role
	}
	if dst.Avatar == "" {
		dst.Avatar = src.Avatar
	}
}

// Login establishes a session from a bearer token. profile may be nil.
func (s *Store) Login(token string, profile *models.User) (*models.Session, error) {
	if store.Absent(token) {
		return nil, middleware.ErrTokenUnusable
	}
	sess, err := sessionFromToken(token)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		mergeUser(&sess.User, *profile)
	}
	if sess.User.Role == "" {
		sess.User.Role = models.RoleStudent
	}

	if err := s.kv.Set(store.KeyToken, token); err != nil {
		log.Printf("[SESSION] Failed to persist token: %v", err)
	}
	if data, err := json.Marshal(sess.User); err == nil {
		if err := s.kv.Set(store.KeyUser, string(data)); err != nil {
			log.Printf("[SESSION] Failed to persist user: %v", err)
		}
	}

	s.mu.Lock()
	s.current = sess
	snapshot := *sess
	listeners := s.listenersLocked()
	s.mu.Unlock()

	log.Printf("[SESSION] Logged in as %s (%s)", sess.User.ID, sess.User.Role)
	for _, fn := range listeners {
		fn(&snapshot)
	}
	return &snapshot, nil
}

// Logout destroys the session and its persisted credential.
func (s *Store) Logout() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.wipe()
	if !had {
		return
	}
	log.Printf("[SESSION] Logged out")
	for _, fn := range listeners {
		fn(nil)
	}
}

func (s *Store) wipe() {
	if err := s.kv.Remove(store.KeyToken); err != nil {
		log.Printf("[SESSION] Failed to remove token: %v", err)
	}
	if err := s.kv.Remove(store.KeyUser); err != nil {
		log.Printf("[SESSION] Failed to remove user: %v", err)
	}
}

// Current returns a copy of the session, or nil when logged out.
func (s *Store) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// UserID returns the session user's id, or "" when logged out.
func (s *Store) UserID() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.User.ID
}

// Token implements middleware.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Invalidate implements middleware.TokenSource: a rejected credential ends
// the session.
func (s *Store) Invalidate() {
	log.Printf("[SESSION] Credential rejected by server")
	s.Logout()
}

// Subscribe registers fn for login (non-nil session) and logout (nil)
// transitions. The returned func removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
