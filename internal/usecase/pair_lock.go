package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketCascade/pkg/cache"
)

// PairLocker serializes work per key. The returned func releases the lock.
type PairLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func pairKey(userID, assetID string) string {
	return cache.GenerateKeyWithParams("lock", "pair", userID, assetID)
}

// KeyedMutex is an in-process PairLocker. Entries are dropped once unused.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			k.release(key, s)
		}, nil
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// CacheLocker is a PairLocker over cache.Service TryLock, polling until acquired
// or ctx is done. With RedisCache it serializes across replicas.
type CacheLocker struct {
	cache cache.Service
	ttl   time.Duration
	retry time.Duration
}

func NewCacheLocker(c cache.Service, ttl time.Duration) *CacheLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CacheLocker{cache: c, ttl: ttl, retry: 25 * time.Millisecond}
}

func (l *CacheLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		token, ok, err := l.cache.TryLock(ctx, key, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() { _ = l.cache.Unlock(context.Background(), key, token) }, nil
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
