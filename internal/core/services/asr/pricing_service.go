package asr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/database"
)

// pricingInvalidateChannel is the Redis pub/sub channel every pricingService
// instance subscribes to so a write on one process invalidates the
// in-process cache on every other process within the same deployment (§4.A,
// §5 "Pricing-registry caches MUST be process-local and invalidated ... by
// notification bus").
const pricingInvalidateChannel = "asr:pricing:invalidate"

type cachedPricing struct {
	config    *asrDomain.PricingConfig
	expiresAt time.Time
}

// pricingService implements asr.PricingService (§4.A, component A).
type pricingService struct {
	repo   asrDomain.PricingRepository
	redis  *database.RedisDB
	logger *slog.Logger

	cacheMutex  sync.RWMutex
	cache       map[string]cachedPricing
	cacheExpiry time.Duration
}

// NewPricingService constructs the pricing registry, with an optional Redis
// client for cross-process cache invalidation. redisDB may be nil, in which
// case the cache is still TTL-bound but invalidation is process-local only.
func NewPricingService(repo asrDomain.PricingRepository, redisDB *database.RedisDB, logger *slog.Logger) asrDomain.PricingService {
	s := &pricingService{
		repo:        repo,
		redis:       redisDB,
		logger:      logger,
		cache:       make(map[string]cachedPricing),
		cacheExpiry: 5 * time.Minute,
	}
	if redisDB != nil {
		go s.subscribeInvalidation(context.Background())
	}
	return s
}

func cacheKey(provider, variant string) string {
	return provider + "/" + variant
}

// Get implements asr.PricingService.Get.
func (s *pricingService) Get(ctx context.Context, provider, variant string) (*asrDomain.PricingConfig, error) {
	key := cacheKey(provider, variant)

	s.cacheMutex.RLock()
	entry, ok := s.cache[key]
	s.cacheMutex.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.config, nil
	}

	cfg, err := s.repo.Get(ctx, provider, variant)
	if err != nil {
		return nil, err
	}

	s.cacheMutex.Lock()
	s.cache[key] = cachedPricing{config: cfg, expiresAt: time.Now().Add(s.cacheExpiry)}
	s.cacheMutex.Unlock()

	return cfg, nil
}

// ListEnabled implements asr.PricingService.ListEnabled. Not cached: called
// rarely (scheduler candidate enumeration, admin tooling) relative to Get.
func (s *pricingService) ListEnabled(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	return s.repo.ListEnabled(ctx)
}

// ListWithFreeTier implements asr.PricingService.ListWithFreeTier.
func (s *pricingService) ListWithFreeTier(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	return s.repo.ListWithFreeTier(ctx)
}

// Upsert implements asr.PricingService.Upsert. It invalidates the local
// cache entry before returning and, when Redis is wired, publishes an
// invalidation message so every other process drops its cached entry before
// the next read (§4.A: "the core never returns stale cost or feature flags
// once an admin write has committed").
func (s *pricingService) Upsert(ctx context.Context, cfg *asrDomain.PricingConfig) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return asrDomain.NewTaskError(asrDomain.ErrInvalidParameter, errs[0].Error())
	}

	if err := s.repo.Upsert(ctx, cfg); err != nil {
		return err
	}

	key := cacheKey(cfg.Provider, cfg.Variant)
	s.invalidateLocal(key)

	if s.redis != nil {
		if err := s.redis.Client.Publish(ctx, pricingInvalidateChannel, key).Err(); err != nil {
			s.logger.Warn("failed to publish pricing cache invalidation", "key", key, "error", err)
		}
	}

	return nil
}

func (s *pricingService) invalidateLocal(key string) {
	s.cacheMutex.Lock()
	delete(s.cache, key)
	s.cacheMutex.Unlock()
}

// subscribeInvalidation listens for invalidation messages published by
// other processes' Upsert calls and drops the matching local cache entry.
func (s *pricingService) subscribeInvalidation(ctx context.Context) {
	sub := s.redis.Client.Subscribe(ctx, pricingInvalidateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		s.invalidateLocal(msg.Payload)
	}
}
