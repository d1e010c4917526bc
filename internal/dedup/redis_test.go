package dedup

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisStore(client, "category-service-group", ttl), m
}

func TestRedisStoreAppliedDefaultsToZero(t *testing.T) {
	s, _ := newStore(t, time.Hour)
	v, err := s.Applied(context.Background(), "c1", "content-created")
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}
}

func TestRedisStoreRecordIsMonotonic(t *testing.T) {
	s, _ := newStore(t, time.Hour)
	ctx := context.Background()

	moved, err := s.Record(ctx, Record{AggregateID: "c1", EventType: "content-updated", AppliedVersion: 3})
	if err != nil || !moved {
		t.Fatalf("first record: moved=%v err=%v", moved, err)
	}
	moved, err = s.Record(ctx, Record{AggregateID: "c1", EventType: "content-updated", AppliedVersion: 2})
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if moved {
		t.Fatalf("lower version must not move the record")
	}
	v, err := s.Applied(ctx, "c1", "content-updated")
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected applied version 3, got %d", v)
	}
}

func TestRedisStoreKeyNamespacing(t *testing.T) {
	s, m := newStore(t, time.Hour)
	ctx := context.Background()
	if _, err := s.Record(ctx, Record{AggregateID: "c1", EventType: "content-created", AppliedVersion: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	const expected = "dedup:category-service-group:c1:content-created"
	if !m.Exists(expected) {
		t.Fatalf("expected redis key %q to exist", expected)
	}
	if got := m.TTL(expected); got <= 0 {
		t.Fatalf("expected retention ttl, got %v", got)
	}
}

func TestRedisStoreRecordsExpireAfterRetention(t *testing.T) {
	s, m := newStore(t, time.Minute)
	ctx := context.Background()
	if _, err := s.Record(ctx, Record{AggregateID: "c1", EventType: "content-created", AppliedVersion: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	m.FastForward(2 * time.Minute)
	v, err := s.Applied(ctx, "c1", "content-created")
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected pruned record, got %d", v)
	}
}
