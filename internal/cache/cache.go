package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache reads served from Redis.",
	}, []string{"entity"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Cache reads that fell through to the primary store.",
	}, []string{"entity"})
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_errors_total",
		Help: "Redis failures by operation.",
	}, []string{"op"})
	cacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_invalidated_keys_total",
		Help: "Keys removed by explicit invalidation.",
	}, []string{"entity"})
)

const scanBatch = 200

type entry struct {
	Value     json.RawMessage `json:"value"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Manager is a Redis-backed TTL cache. A nil Manager behaves as an always
// empty cache.
type Manager struct {
	redis  *redis.Client
	logger *log.Logger
	now    func() time.Time
}

func New(client *redis.Client, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{redis: client, logger: logger, now: time.Now}
}

// Get loads key into dst. A backend failure is reported as
// ErrCacheUnavailable together with a miss.
func (m *Manager) Get(ctx context.Context, key string, dst any) (bool, error) {
	if m == nil || m.redis == nil {
		return false, nil
	}
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			cacheMisses.WithLabelValues(label(key)).Inc()
			return false, nil
		}
		cacheErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("%w: get %s: %v", domain.ErrCacheUnavailable, key, err)
	}
	var ent entry
	if err := json.Unmarshal(data, &ent); err != nil || !m.now().Before(ent.ExpiresAt) {
		// Undecodable or past its expiry: drop it and report a miss.
		_ = m.redis.Del(ctx, key).Err()
		cacheMisses.WithLabelValues(label(key)).Inc()
		return false, nil
	}
	if err := json.Unmarshal(ent.Value, dst); err != nil {
		_ = m.redis.Del(ctx, key).Err()
		cacheMisses.WithLabelValues(label(key)).Inc()
		return false, nil
	}
	cacheHits.WithLabelValues(label(key)).Inc()
	return true, nil
}

// Put stores value under key for ttl. A non-positive ttl disables caching.
func (m *Manager) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if m == nil || m.redis == nil || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value %s: %w", key, err)
	}
	now := m.now().UTC()
	data, err := json.Marshal(entry{Value: raw, CachedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: set %s: %v", domain.ErrCacheUnavailable, key, err)
	}
	return nil
}

// Invalidate removes exact keys and every key matching a glob pattern.
func (m *Manager) Invalidate(ctx context.Context, keysOrPatterns ...string) error {
	if m == nil || m.redis == nil || len(keysOrPatterns) == 0 {
		return nil
	}
	exact := make([]string, 0, len(keysOrPatterns))
	var errs []error
	for _, k := range keysOrPatterns {
		if !isPattern(k) {
			exact = append(exact, k)
			continue
		}
		if err := m.purge(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if len(exact) > 0 {
		n, err := m.redis.Del(ctx, exact...).Result()
		if err != nil {
			cacheErrors.WithLabelValues("del").Inc()
			errs = append(errs, fmt.Errorf("del %v: %v", exact, err))
		} else if n > 0 {
			cacheInvalidations.WithLabelValues(label(exact[0])).Add(float64(n))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, errors.Join(errs...))
	}
	return nil
}

func (m *Manager) purge(ctx context.Context, pattern string) error {
	iter := m.redis.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := m.redis.Del(ctx, batch...).Err(); err != nil {
			cacheErrors.WithLabelValues("del").Inc()
			return fmt.Errorf("purge %s: %v", pattern, err)
		}
		cacheInvalidations.WithLabelValues(label(pattern)).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues("scan").Inc()
		return fmt.Errorf("scan %s: %v", pattern, err)
	}
	return flush()
}

// InvalidateLogged runs Invalidate and logs instead of returning the error.
// Stale entries still expire through their TTL.
func (m *Manager) InvalidateLogged(ctx context.Context, keysOrPatterns ...string) {
	if err := m.Invalidate(ctx, keysOrPatterns...); err != nil {
		m.logger.WithError(err).WithField("keys", keysOrPatterns).Warn("cache invalidation failed")
	}
}

// ReadThrough serves key from the cache or fills it from the primary store.
// Concurrent misses each recompute from the store.
func ReadThrough[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, fill func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := m.Get(ctx, key, &cached)
	if err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("cache read failed, using primary store")
	}
	if hit {
		return cached, nil
	}
	val, err := fill(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := m.Put(ctx, key, val, ttl); err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("cache fill failed")
	}
	return val, nil
}
