package main

import (
	"github.com/matst80/hellotls/internal/obs"
	"github.com/matst80/hellotls/internal/stats"
)

// newStatsStore creates either an in-memory or Redis-backed stats store based on configuration
func newStatsStore(cfg RedisFlags) (stats.Store, error) {
	if cfg.Addr == "" {
		obs.Info("stats.backend", obs.Fields{"type": "in-memory"})
		return stats.NewMemoryStore(), nil
	}
	obs.Info("stats.backend", obs.Fields{"type": "redis", "addr": cfg.Addr})
	return stats.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
}
