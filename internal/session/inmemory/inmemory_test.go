package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/parley/internal/session"
)

func TestUpsertCreatesAndGets(t *testing.T) {
	store := NewStore(30 * time.Minute)
	ctx := context.Background()

	sess, err := store.Upsert(ctx, "", func(s *session.Session) {
		s.AddTurn("user", "hello")
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected a generated session id")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "hello" {
		t.Fatalf("unexpected turns: %+v", got.Turns)
	}
}

func TestUpsertReusesExistingID(t *testing.T) {
	store := NewStore(30 * time.Minute)
	ctx := context.Background()

	first, _ := store.Upsert(ctx, "abc", func(s *session.Session) { s.AddTurn("user", "one") })
	second, _ := store.Upsert(ctx, "abc", func(s *session.Session) { s.AddTurn("user", "two") })

	if first.ID != second.ID {
		t.Fatalf("expected same session, got %s and %s", first.ID, second.ID)
	}
	if len(second.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(second.Turns))
	}
}

func TestExpiredSessionBehavesAsAbsent(t *testing.T) {
	store := NewStore(10 * time.Millisecond)
	ctx := context.Background()

	sess, _ := store.Upsert(ctx, "", func(s *session.Session) { s.AddTurn("user", "hi") })
	time.Sleep(30 * time.Millisecond)

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	// Upsert on an expired id starts fresh state under the same id.
	fresh, err := store.Upsert(ctx, sess.ID, func(s *session.Session) {})
	if err != nil {
		t.Fatalf("Upsert after expiry: %v", err)
	}
	if len(fresh.Turns) != 0 {
		t.Fatalf("expected fresh session, found %d carried-over turns", len(fresh.Turns))
	}
}

func TestGetRacingUpsertKeepsCommittedTurns(t *testing.T) {
	// A Get that observes an expired entry must not delete the fresh
	// session a concurrent Upsert recreates under the same id.
	for i := 0; i < 50; i++ {
		store := NewStore(20 * time.Millisecond)
		ctx := context.Background()

		seed, _ := store.Upsert(ctx, "shared", func(s *session.Session) {})
		time.Sleep(30 * time.Millisecond) // let the seed expire

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, seed.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Upsert(ctx, seed.ID, func(s *session.Session) {
				s.AddTurn("user", "committed")
			})
		}()
		wg.Wait()

		got, err := store.Get(ctx, seed.ID)
		if err != nil {
			t.Fatalf("iteration %d: committed session vanished: %v", i, err)
		}
		if len(got.Turns) != 1 || got.Turns[0].Content != "committed" {
			t.Fatalf("iteration %d: committed turn lost: %+v", i, got.Turns)
		}
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	store := NewStore(50 * time.Millisecond)
	ctx := context.Background()

	old, _ := store.Upsert(ctx, "old", func(s *session.Session) {})
	time.Sleep(80 * time.Millisecond)
	live, _ := store.Upsert(ctx, "live", func(s *session.Session) {})

	n, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if _, err := store.Get(ctx, old.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expired session should be gone")
	}
	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Fatalf("live session should survive sweep: %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(time.Minute)
	ctx := context.Background()

	sess, _ := store.Upsert(ctx, "", func(s *session.Session) {})
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := NewStore(time.Minute)
	ctx := context.Background()

	sess, _ := store.Upsert(ctx, "", func(s *session.Session) {
		s.Extracted = &session.ExtractedContent{Text: "original", Type: "pdf"}
	})

	// Mutating the returned copy must not leak into the store.
	sess.Extracted.Text = "tampered"
	sess.AddTurn("user", "tampered turn")

	got, _ := store.Get(ctx, sess.ID)
	if got.Extracted.Text != "original" {
		t.Fatalf("store state mutated through returned snapshot")
	}
	if len(got.Turns) != 0 {
		t.Fatalf("store turns mutated through returned snapshot")
	}
}

func TestRecentTurns(t *testing.T) {
	sess := &session.Session{}
	for _, m := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		sess.AddTurn("user", m)
	}
	recent := sess.RecentTurns(5)
	if len(recent) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(recent))
	}
	if recent[0].Content != "c" || recent[4].Content != "g" {
		t.Fatalf("expected last five turns oldest-first, got %+v", recent)
	}
}
