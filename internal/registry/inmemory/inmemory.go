package inmemory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/answerhive/answerhive/internal/search"
)

type entry struct {
	mu   sync.RWMutex
	sess *search.SearchSession
}

// Registry is the in-memory session store: a map guarded by a store-level
// lock for membership plus a per-entry RWMutex so one session's writer never
// blocks another session's pollers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	ttl    time.Duration
	logger *log.Logger

	stop chan struct{}
	once sync.Once
}

// New creates the registry. ttl > 0 enables the expiry sweep for terminal
// sessions; schedule is a cron expression for sweep timing (empty with a
// positive ttl falls back to every five minutes).
func New(ttl time.Duration, schedule string, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[REG] ", log.LstdFlags)
	}
	r := &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		expr := schedule
		if expr == "" {
			expr = "*/5 * * * *"
		}
		cron, err := cronexpr.Parse(expr)
		if err != nil {
			logger.Printf("invalid cleanup schedule %q, sweep disabled: %v", expr, err)
		} else {
			go r.janitor(cron)
		}
	}
	return r
}

func (r *Registry) Create(_ context.Context, query string, platforms []string) (*search.SearchSession, error) {
	sess := search.NewSession(uuid.NewString(), query, platforms)
	r.mu.Lock()
	r.sessions[sess.ID] = &entry{sess: sess}
	r.mu.Unlock()
	return sess.Clone(), nil
}

func (r *Registry) Get(_ context.Context, id string) (*search.SearchSession, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, search.ErrSessionNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sess.Clone(), nil
}

func (r *Registry) Update(_ context.Context, id string, mutate func(*search.SearchSession) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return search.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := mutate(e.sess); err != nil {
		return err
	}
	e.sess.UpdatedAt = time.Now()
	return nil
}

func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return search.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *Registry) Close() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *Registry) janitor(cron *cronexpr.Expression) {
	for {
		next := cron.Next(time.Now())
		if next.IsZero() {
			return
		}
		select {
		case <-time.After(time.Until(next)):
			if n := r.Sweep(time.Now()); n > 0 {
				r.logger.Printf("swept %d expired sessions", n)
			}
		case <-r.stop:
			return
		}
	}
}

// Sweep removes terminal sessions idle longer than the TTL. Running
// sessions are never swept; their lifecycle belongs to the orchestrator.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.sessions {
		e.mu.RLock()
		expired := e.sess.Status != search.SessionRunning && now.Sub(e.sess.UpdatedAt) > r.ttl
		e.mu.RUnlock()
		if expired {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
