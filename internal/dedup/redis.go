package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup"

// Record is the highest version of (aggregate, event type) a consumer group
// has applied.
type Record struct {
	AggregateID    string
	EventType      string
	AppliedVersion int64
}

// recordScript raises the stored version only when the new one is higher and
// refreshes the retention TTL either way.
var recordScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local next = tonumber(ARGV[1])
if next > cur then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 0
`)

// RedisStore keeps dedup records in Redis, namespaced per consumer group so
// every service applies each event independently.
type RedisStore struct {
	client *redis.Client
	group  string
	ttl    time.Duration
}

// NewRedisStore creates a store for group. ttl is the retention window and
// must exceed the longest plausible redelivery delay.
func NewRedisStore(client *redis.Client, group string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, group: group, ttl: ttl}
}

func (s *RedisStore) key(aggregateID, eventType string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, s.group, aggregateID, eventType)
}

// Applied returns the applied version, or zero when nothing was recorded.
func (s *RedisStore) Applied(ctx context.Context, aggregateID, eventType string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(aggregateID, eventType)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("dedup lookup: %w", err)
	}
	return v, nil
}

// Record stores r unless a higher version is already present. It reports
// whether the stored version moved.
func (s *RedisStore) Record(ctx context.Context, r Record) (bool, error) {
	res, err := recordScript.Run(ctx, s.client, []string{s.key(r.AggregateID, r.EventType)}, r.AppliedVersion, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dedup record: %w", err)
	}
	return res == 1, nil
}
