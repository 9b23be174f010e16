package scheduler

import (
	"context"
	"time"

	"MarketCascade/pkg/cache"
)

// Locker is the subset of cache.Service a runner needs to be single-writer
// across replicas. RedisCache gives a cluster-wide lock, MemoryCache a local one.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (cache.Service)(nil)

func lockKey(pass string) string {
	return cache.GenerateKeyWithParams("lock", "pass", pass)
}

// lockTTL outlives the run timeout so a slow run never loses its lock mid-flight.
func lockTTL(timeout time.Duration) time.Duration {
	return timeout + timeout/2 + time.Second
}
