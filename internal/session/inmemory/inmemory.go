// Package inmemory is the default session backend: a mutex-guarded map with
// lazy expiry on read and a periodic sweeper.
package inmemory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/parley/internal/session"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	timeout  time.Duration
	logger   *log.Logger
}

// NewStore returns an in-memory store whose sessions expire after timeout of
// inactivity.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		timeout:  timeout,
		logger:   log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

func (s *Store) expired(sess *session.Session) bool {
	return time.Since(sess.LastActive) > s.timeout
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	if s.expired(sess) {
		s.mu.Lock()
		// Re-check under the write lock: an Upsert may have replaced the
		// expired entry with a fresh session since the read above, and a
		// blind delete would drop its committed turns.
		if cur, ok := s.sessions[id]; ok && cur == sess && s.expired(cur) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, session.ErrNotFound
	}
	return snapshot(sess), nil
}

func (s *Store) Upsert(ctx context.Context, id string, mutate func(*session.Session)) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok && s.expired(sess) {
		delete(s.sessions, id)
		ok = false
	}
	if !ok {
		now := time.Now()
		if id == "" {
			id = uuid.NewString()
		}
		sess = &session.Session{ID: id, CreatedAt: now, LastActive: now}
		s.sessions[id] = sess
	}
	mutate(sess)
	sess.LastActive = time.Now()
	return snapshot(sess), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep removes every expired session and reports how many were dropped.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, _ := s.Sweep(ctx); n > 0 {
					s.logger.Printf("swept %d expired sessions", n)
				}
			}
		}
	}()
}

// snapshot deep-copies a session so callers never hold a pointer into the map.
func snapshot(sess *session.Session) *session.Session {
	out := *sess
	out.Turns = make([]session.Turn, len(sess.Turns))
	copy(out.Turns, sess.Turns)
	if sess.Extracted != nil {
		ec := *sess.Extracted
		out.Extracted = &ec
	}
	return &out
}
