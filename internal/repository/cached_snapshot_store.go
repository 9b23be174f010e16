package repository

import (
	"context"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/pkg/cache"
)

const snapshotKeyPrefix = "snap"

// CachedSnapshotStore caches the Latest* reads of a SnapshotStore. Appends
// go to the inner store first and then drop the affected key.
type CachedSnapshotStore struct {
	inner domrepo.SnapshotStore
	cache cache.Service
	ttl   time.Duration
}

func NewCachedSnapshotStore(inner domrepo.SnapshotStore, c cache.Service, ttl time.Duration) *CachedSnapshotStore {
	return &CachedSnapshotStore{inner: inner, cache: c, ttl: ttl}
}

var _ domrepo.SnapshotStore = (*CachedSnapshotStore)(nil)

func regimeKey() string  { return cache.GenerateKey(snapshotKeyPrefix, "regime") }
func sectorsKey() string { return cache.GenerateKey(snapshotKeyPrefix, "sectors") }
func assetsKey(wl models.ListContext) string {
	return cache.GenerateKeyWithParams(snapshotKeyPrefix, "assets", wl)
}

// Invalidate drops every cached snapshot. It runs at startup because another
// replica may have appended while this one was down.
func (s *CachedSnapshotStore) Invalidate(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, cache.BuildPattern(snapshotKeyPrefix+":"))
}

func (s *CachedSnapshotStore) AppendRegime(ctx context.Context, snap models.RegimeSnapshot) error {
	if err := s.inner.AppendRegime(ctx, snap); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, regimeKey())
	return nil
}

func (s *CachedSnapshotStore) LatestRegime(ctx context.Context) (*models.RegimeSnapshot, error) {
	r, err := cache.GetOrLoad(ctx, s.cache, regimeKey(), s.ttl, func(ctx context.Context) (models.RegimeSnapshot, error) {
		p, err := s.inner.LatestRegime(ctx)
		if err != nil {
			return models.RegimeSnapshot{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RegimeHistory is not cached.
func (s *CachedSnapshotStore) RegimeHistory(ctx context.Context, limit int) ([]models.RegimeSnapshot, error) {
	return s.inner.RegimeHistory(ctx, limit)
}

func (s *CachedSnapshotStore) AppendSectors(ctx context.Context, ss []models.SectorSnapshot) error {
	if err := s.inner.AppendSectors(ctx, ss); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, sectorsKey())
	return nil
}

func (s *CachedSnapshotStore) LatestSectors(ctx context.Context) ([]models.SectorSnapshot, error) {
	return cache.GetOrLoad(ctx, s.cache, sectorsKey(), s.ttl, s.inner.LatestSectors)
}

func (s *CachedSnapshotStore) AppendAssets(ctx context.Context, ss []models.AssetSnapshot) error {
	if err := s.inner.AppendAssets(ctx, ss); err != nil {
		return err
	}
	seen := make(map[models.ListContext]bool)
	for _, a := range ss {
		if !seen[a.ListContext] {
			seen[a.ListContext] = true
			_ = s.cache.Delete(ctx, assetsKey(a.ListContext))
		}
	}
	return nil
}

func (s *CachedSnapshotStore) LatestAssets(ctx context.Context, wl models.ListContext) ([]models.AssetSnapshot, error) {
	return cache.GetOrLoad(ctx, s.cache, assetsKey(wl), s.ttl, func(ctx context.Context) ([]models.AssetSnapshot, error) {
		return s.inner.LatestAssets(ctx, wl)
	})
}
