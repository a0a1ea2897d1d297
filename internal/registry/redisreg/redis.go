package redisreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/answerhive/answerhive/internal/search"
)

const keyPrefix = "answerhive:session:"

// updateRetries bounds optimistic-transaction retries before giving up.
const updateRetries = 16

// Registry stores sessions as JSON values in redis so multiple API nodes can
// poll the same session. Atomic updates use WATCH-based optimistic
// transactions; expiry rides on redis key TTLs instead of a sweeper.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a redis-backed registry. ttl <= 0 keeps sessions until
// explicit deletion.
func New(addr, password string, db int, ttl time.Duration) *Registry {
	return &Registry{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

// NewWithClient is for tests that provision their own client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Registry {
	return &Registry{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

func (r *Registry) expiry() time.Duration {
	if r.ttl > 0 {
		return r.ttl
	}
	return 0 // no expiry
}

func (r *Registry) Create(ctx context.Context, query string, platforms []string) (*search.SearchSession, error) {
	sess := search.NewSession(uuid.NewString(), query, platforms)
	buf, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, key(sess.ID), buf, r.expiry()).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*search.SearchSession, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, search.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess search.SearchSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *Registry) Update(ctx context.Context, id string, mutate func(*search.SearchSession) error) error {
	k := key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return search.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess search.SearchSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := mutate(&sess); err != nil {
			return err
		}
		sess.UpdatedAt = time.Now()
		buf, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, buf, r.expiry())
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer won the race, retry on fresh state
		}
		return err
	}
	return fmt.Errorf("session %s: too many concurrent update conflicts", id)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return search.ErrSessionNotFound
	}
	return nil
}

func (r *Registry) Close() error { return r.client.Close() }
