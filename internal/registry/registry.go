// Package registry provides the SessionRegistry backends: an in-process map
// for a single node and a redis-backed store for shared deployments.
package registry

import (
	"log"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/registry/inmemory"
	"github.com/answerhive/answerhive/internal/registry/redisreg"
	"github.com/answerhive/answerhive/internal/search"
)

// FromConfig picks the registry backend: redis when enabled, otherwise the
// in-memory store with its TTL sweep.
func FromConfig(cfg *config.Config, logger *log.Logger) search.Registry {
	if cfg.Redis.Enabled {
		return redisreg.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Search.SessionTTL)
	}
	return inmemory.New(cfg.Search.SessionTTL, cfg.Search.CleanupSchedule, logger)
}
