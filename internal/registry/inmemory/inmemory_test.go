package inmemory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/answerhive/answerhive/internal/search"
)

func TestCreateAndGet(t *testing.T) {
	r := New(0, "", nil)
	defer r.Close()
	ctx := context.Background()

	sess, err := r.Create(ctx, "query", []string{"A", "B"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session id not assigned")
	}
	if sess.Status != search.SessionRunning {
		t.Fatalf("new session status = %s, want running", sess.Status)
	}
	if len(sess.Tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(sess.Tasks))
	}

	got, err := r.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Query != "query" {
		t.Fatalf("query = %q", got.Query)
	}
}

func TestGetUnknownSession(t *testing.T) {
	r := New(0, "", nil)
	defer r.Close()

	if _, err := r.Get(context.Background(), "nope"); err != search.ErrSessionNotFound {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if err := r.Update(context.Background(), "nope", func(*search.SearchSession) error { return nil }); err != search.ErrSessionNotFound {
		t.Fatalf("update err = %v, want ErrSessionNotFound", err)
	}
	if err := r.Delete(context.Background(), "nope"); err != search.ErrSessionNotFound {
		t.Fatalf("delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := New(0, "", nil)
	defer r.Close()
	ctx := context.Background()

	sess, _ := r.Create(ctx, "q", []string{"A"})
	snapshot, _ := r.Get(ctx, sess.ID)

	// Mutating a snapshot must not leak into the stored session.
	snapshot.Tasks["A"].Content = "tampered"
	snapshot.Status = search.SessionFailed

	stored, _ := r.Get(ctx, sess.ID)
	if stored.Tasks["A"].Content != "" || stored.Status != search.SessionRunning {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := New(0, "", nil)
	defer r.Close()
	ctx := context.Background()

	sess, _ := r.Create(ctx, "q", []string{"A"})

	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = r.Update(ctx, sess.ID, func(s *search.SearchSession) error {
					s.Tasks["A"].SubProgress++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	got, _ := r.Get(ctx, sess.ID)
	if got.Tasks["A"].SubProgress != writers*perWriter {
		t.Fatalf("lost updates: %v, want %d", got.Tasks["A"].SubProgress, writers*perWriter)
	}
}

func TestDelete(t *testing.T) {
	r := New(0, "", nil)
	defer r.Close()
	ctx := context.Background()

	sess, _ := r.Create(ctx, "q", []string{"A"})
	if err := r.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, sess.ID); err != search.ErrSessionNotFound {
		t.Fatalf("get after delete: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSweepRemovesOnlyStaleTerminalSessions(t *testing.T) {
	r := New(time.Hour, "", nil)
	defer r.Close()
	ctx := context.Background()

	running, _ := r.Create(ctx, "q", []string{"A"})
	done, _ := r.Create(ctx, "q", []string{"A"})
	_ = r.Update(ctx, done.ID, func(s *search.SearchSession) error {
		s.Status = search.SessionCompleted
		return nil
	})

	// Nothing is stale yet.
	if n := r.Sweep(time.Now()); n != 0 {
		t.Fatalf("premature sweep removed %d sessions", n)
	}

	future := time.Now().Add(2 * time.Hour)
	if n := r.Sweep(future); n != 1 {
		t.Fatalf("sweep removed %d sessions, want 1", n)
	}
	if _, err := r.Get(ctx, done.ID); err != search.ErrSessionNotFound {
		t.Fatal("terminal session should have been swept")
	}
	if _, err := r.Get(ctx, running.ID); err != nil {
		t.Fatalf("running session must survive the sweep: %v", err)
	}
}
