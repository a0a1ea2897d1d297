package search

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by registry lookups, updates and deletes
// for ids that were never created or were already deleted.
var ErrSessionNotFound = errors.New("session not found")

// Registry is the process-wide store of search sessions. Get returns a
// consistent snapshot; Update applies a single-writer atomic mutation and is
// the only way session state changes after creation.
type Registry interface {
	Create(ctx context.Context, query string, platforms []string) (*SearchSession, error)
	Get(ctx context.Context, id string) (*SearchSession, error)
	Update(ctx context.Context, id string, mutate func(*SearchSession) error) error
	Delete(ctx context.Context, id string) error
	Close() error
}
