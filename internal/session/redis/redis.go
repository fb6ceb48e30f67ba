// Package redis is the shared-state session backend: each session is one JSON
// blob under parley:session:<id> with a TTL equal to the idle timeout, so
// expiry is handled by redis itself and Sweep is a no-op.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/parley/internal/session"
)

type Store struct {
	client  *goredis.Client
	timeout time.Duration

	// Serializes Upserts within this process. Redis TTL handles expiry;
	// this guards the read-modify-write of the blob.
	mu sync.Mutex
}

// NewStore connects to redis at addr and returns a store whose sessions
// expire after timeout of inactivity.
func NewStore(addr, password string, db int, timeout time.Duration) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, timeout: timeout}
}

// NewStoreWithClient wraps an existing client; used by tests.
func NewStoreWithClient(client *goredis.Client, timeout time.Duration) *Store {
	return &Store{client: client, timeout: timeout}
}

func key(id string) string { return fmt.Sprintf("parley:session:%s", id) }

func (s *Store) load(ctx context.Context, id string) (*session.Session, error) {
	val, err := s.client.Get(ctx, key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, key(sess.ID), data, s.timeout).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.load(ctx, id)
}

func (s *Store) Upsert(ctx context.Context, id string, mutate func(*session.Session)) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess *session.Session
	if id != "" {
		existing, err := s.load(ctx, id)
		switch {
		case err == nil:
			sess = existing
		case errors.Is(err, session.ErrNotFound):
		default:
			return nil, err
		}
	}
	if sess == nil {
		now := time.Now()
		if id == "" {
			id = uuid.NewString()
		}
		sess = &session.Session{ID: id, CreatedAt: now, LastActive: now}
	}

	mutate(sess)
	sess.LastActive = time.Now()
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Sweep is a no-op: redis evicts expired sessions via key TTL.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }
