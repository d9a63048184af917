package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CryptoRelay/internal/domain/models"
	"CryptoRelay/pkg/cache"
)

const (
	priceKeyPrefix  = "price"
	avgKeyPrefix    = "avg"
	hourlyKeyPrefix = "hourly"
)

// CacheSnapshotStore mirrors the latest tick and hourly average per symbol
// into a shared cache so other processes can read them.
type CacheSnapshotStore struct {
	cache cache.Service
	ttl   time.Duration
}

// NewCacheSnapshotStore creates a store over any cache.Service (Redis in production).
func NewCacheSnapshotStore(c cache.Service, ttl time.Duration) *CacheSnapshotStore {
	return &CacheSnapshotStore{cache: c, ttl: ttl}
}

func (s *CacheSnapshotStore) PutPrice(ctx context.Context, t models.PriceTick) error {
	if err := s.cache.Set(ctx, cache.GenerateKey(priceKeyPrefix, t.Symbol), t, s.ttl); err != nil {
		return fmt.Errorf("cache price %s: %w", t.Symbol, err)
	}
	return nil
}

// PutAverage stores the average both as the symbol's latest and under its hour key.
func (s *CacheSnapshotStore) PutAverage(ctx context.Context, avg models.HourlyAverage) error {
	values := map[string]interface{}{
		cache.GenerateKey(avgKeyPrefix, avg.Symbol):                        avg,
		cache.GenerateKeyWithParams(hourlyKeyPrefix, avg.Symbol, avg.Hour): avg,
	}
	if err := s.cache.MSet(ctx, values, s.ttl); err != nil {
		return fmt.Errorf("cache average %s: %w", avg.Symbol, err)
	}
	return nil
}

func (s *CacheSnapshotStore) LatestPrice(ctx context.Context, symbol string) (*models.PriceTick, error) {
	var t models.PriceTick
	if err := s.cache.Get(ctx, cache.GenerateKey(priceKeyPrefix, symbol), &t); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read price %s: %w", symbol, err)
	}
	return &t, nil
}

func (s *CacheSnapshotStore) LatestAverage(ctx context.Context, symbol string) (*models.HourlyAverage, error) {
	var avg models.HourlyAverage
	if err := s.cache.Get(ctx, cache.GenerateKey(avgKeyPrefix, symbol), &avg); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read average %s: %w", symbol, err)
	}
	return &avg, nil
}

// LatestPrices reads several symbols in one round trip. Missing symbols are omitted.
func (s *CacheSnapshotStore) LatestPrices(ctx context.Context, symbols []string) (map[string]models.PriceTick, error) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = cache.GenerateKey(priceKeyPrefix, sym)
	}
	byKey, err := cache.MGetTyped[models.PriceTick](ctx, s.cache, keys...)
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}
	out := make(map[string]models.PriceTick, len(byKey))
	for _, t := range byKey {
		out[t.Symbol] = t
	}
	return out, nil
}

func (s *CacheSnapshotStore) Close() error {
	return s.cache.Close()
}

func (s *CacheSnapshotStore) Name() string { return "redis" }

func (s *CacheSnapshotStore) HandleTick(ctx context.Context, t models.PriceTick) error {
	return s.PutPrice(ctx, t)
}

func (s *CacheSnapshotStore) HandleAverage(ctx context.Context, avg models.HourlyAverage) error {
	return s.PutAverage(ctx, avg)
}
