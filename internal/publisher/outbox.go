package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

var (
	outboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "publisher_outbox_depth",
		Help: "Parked events waiting for reconciliation.",
	}, []string{"service"})
	reconciledEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_reconciled_total",
		Help: "Parked events re-sent successfully.",
	}, []string{"service"})
)

// RedisOutbox is a FIFO of parked events kept in a Redis list. Entries are
// removed only after they were re-sent.
type RedisOutbox struct {
	client  *redis.Client
	service string
}

func NewRedisOutbox(client *redis.Client, service string) *RedisOutbox {
	return &RedisOutbox{client: client, service: service}
}

func (o *RedisOutbox) key() string     { return "outbox:" + o.service }
func (o *RedisOutbox) lockKey() string { return "outbox:" + o.service + ":lock" }

func (o *RedisOutbox) Park(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal parked event: %w", err)
	}
	n, err := o.client.RPush(ctx, o.key(), data).Result()
	if err != nil {
		return fmt.Errorf("park event %s: %w", ev.ID, err)
	}
	outboxDepth.WithLabelValues(o.service).Set(float64(n))
	return nil
}

// Parked is one outbox entry. Raw is the stored value and identifies the
// entry for Remove. Event is nil when Raw does not decode.
type Parked struct {
	Raw   string
	Event *domain.Event
}

// Peek returns up to n parked entries from the head of the list.
func (o *RedisOutbox) Peek(ctx context.Context, n int) ([]Parked, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := o.client.LRange(ctx, o.key(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	out := make([]Parked, len(raw))
	for i, r := range raw {
		out[i].Raw = r
		var ev domain.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		out[i].Event = &ev
	}
	return out, nil
}

// removeScript pops the head when it is the given entry and otherwise
// removes the first occurrence of it. It returns the number removed and the
// new length.
var removeScript = redis.NewScript(`
local removed = 0
if redis.call('LINDEX', KEYS[1], 0) == ARGV[1] then
  redis.call('LPOP', KEYS[1])
  removed = 1
else
  removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
end
return {removed, redis.call('LLEN', KEYS[1])}
`)

// Remove deletes the entry whose stored value is raw. It reports false when
// the entry was already gone.
func (o *RedisOutbox) Remove(ctx context.Context, raw string) (bool, error) {
	res, err := removeScript.Run(ctx, o.client, []string{o.key()}, raw).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("remove outbox entry: %w", err)
	}
	outboxDepth.WithLabelValues(o.service).Set(float64(res[1]))
	return res[0] == 1, nil
}

func (o *RedisOutbox) Len(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key()).Result()
}

var (
	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// outboxLock is one instance's claim on the outbox.
type outboxLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// lock claims the outbox for one reconciliation pass across instances of
// the same service.
func (o *RedisOutbox) lock(ctx context.Context, ttl time.Duration) (*outboxLock, bool, error) {
	l := &outboxLock{client: o.client, key: o.lockKey(), token: uuid.NewString(), ttl: ttl}
	ok, err := o.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return l, true, nil
}

// extend renews the claim. It reports false once another instance holds
// the lock or it expired.
func (l *outboxLock) extend(ctx context.Context) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend outbox lock: %w", err)
	}
	return n == 1, nil
}

func (l *outboxLock) release() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

type resender interface {
	Send(ctx context.Context, ev domain.Event) error
}

// Reconciler periodically re-sends parked events in order.
type Reconciler struct {
	outbox   *RedisOutbox
	sender   resender
	interval time.Duration
	batch    int
	logger   *log.Logger
}

func NewReconciler(outbox *RedisOutbox, sender resender, interval time.Duration, batch int, logger *log.Logger) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{outbox: outbox, sender: sender, interval: interval, batch: batch, logger: logger}
}

// Run reconciles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Warn("outbox reconciliation pass failed")
			}
		}
	}
}

// ReconcileOnce re-sends one batch and reports how many entries it removed.
// Each entry is removed by value only after its own send succeeded, and the
// lock is renewed before every send. The pass stops at the first failed
// send to keep per-aggregate order, or when the lock was lost.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	l, ok, err := r.outbox.lock(ctx, r.interval)
	if err != nil {
		return 0, fmt.Errorf("lock outbox: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer l.release()

	entries, err := r.outbox.Peek(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, p := range entries {
		held, err := l.extend(ctx)
		if err != nil {
			return done, err
		}
		if !held {
			r.logger.WithField("removed", done).Warn("outbox lock lost, pass stopped")
			return done, nil
		}
		if p.Event == nil {
			r.logger.Error("dropping undecodable outbox entry")
		} else {
			if err := r.sender.Send(ctx, *p.Event); err != nil {
				return done, fmt.Errorf("re-send parked event: %w", err)
			}
			reconciledEvents.WithLabelValues(r.outbox.service).Inc()
			r.logger.WithFields(log.Fields{"event_id": p.Event.ID, "type": p.Event.Type, "aggregate_id": p.Event.AggregateID}).Info("parked event re-sent")
		}
		removed, err := r.outbox.Remove(ctx, p.Raw)
		if err != nil {
			return done, err
		}
		if removed {
			done++
		}
	}
	return done, nil
}
