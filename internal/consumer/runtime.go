package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vlog-platform/internal/bus"
	"vlog-platform/internal/dedup"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/retry"
)

var (
	consumedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_total",
		Help: "Events read by consumer groups, by outcome.",
	}, []string{"group", "topic", "result"})
	handlerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_handler_retries_total",
		Help: "Handler or dedup failures that were retried.",
	}, []string{"group", "topic"})
	processingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_processing_seconds",
		Help:    "Time from fetch to commit for one event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"group", "topic"})
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_state_transitions_total",
		Help: "Runtime state changes.",
	}, []string{"group", "state"})
)

// Source is a consumer group reader bound to a set of topics.
type Source interface {
	Fetch(ctx context.Context) (bus.Message, error)
	Commit(ctx context.Context, msg bus.Message) error
	Close() error
}

// SourceFactory opens a new group membership for topics.
type SourceFactory func(topics []string) (Source, error)

// ErrDedupUnavailable means the dedup store could not be read. The event is
// left uncommitted and the reader reconnects after a backoff.
var ErrDedupUnavailable = errors.New("dedup store unavailable")

// DedupStore remembers the highest applied version per aggregate and type.
type DedupStore interface {
	Applied(ctx context.Context, aggregateID, eventType string) (int64, error)
	Record(ctx context.Context, r dedup.Record) (bool, error)
}

// DeadLetter is a message that will not be applied.
type DeadLetter struct {
	Group     string        `json:"group"`
	Topic     string        `json:"topic"`
	Partition int           `json:"partition"`
	Offset    int64         `json:"offset"`
	Event     *domain.Event `json:"event,omitempty"`
	Raw       []byte        `json:"raw,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Error     string        `json:"error"`
	Attempts  int           `json:"attempts"`
	FailedAt  time.Time     `json:"failedAt"`
}

type DeadLetters interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

type Config struct {
	Group        string
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

type partitionKey struct {
	topic     string
	partition int
}

// Runtime reads one consumer group membership and applies events in fetch
// order: dedup check, handler, dedup record, offset commit.
type Runtime struct {
	cfg       Config
	dispatch  *Dispatch
	newSource SourceFactory
	dedup     DedupStore
	dlq       DeadLetters
	logger    *log.Logger
	tracer    trace.Tracer

	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	isRebalance func(error) bool

	state atomic.Int32

	mu      sync.Mutex
	offsets map[partitionKey]int64
}

func New(cfg Config, dispatch *Dispatch, newSource SourceFactory, store DedupStore, dlq DeadLetters, logger *log.Logger) *Runtime {
	if dispatch == nil || newSource == nil || store == nil {
		panic("consumer.New: dispatch, source factory and dedup store are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Runtime{
		cfg:         cfg,
		dispatch:    dispatch,
		newSource:   newSource,
		dedup:       store,
		dlq:         dlq,
		logger:      logger,
		tracer:      otel.Tracer("vlog-platform/consumer"),
		now:         time.Now,
		sleep:       retry.Sleep,
		isRebalance: bus.IsRebalance,
		offsets:     make(map[partitionKey]int64),
	}
}

func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) {
	if State(r.state.Swap(int32(s))) == s {
		return
	}
	stateTransitions.WithLabelValues(r.cfg.Group, s.String()).Inc()
	r.logger.WithFields(log.Fields{"group": r.cfg.Group, "state": s.String()}).Debug("consumer state changed")
}

// Offset returns the next offset to read for a partition, as last committed
// by this runtime.
func (r *Runtime) Offset(topic string, partition int) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, ok := r.offsets[partitionKey{topic, partition}]
	return off, ok
}

func (r *Runtime) advance(msg bus.Message) {
	k := partitionKey{msg.Topic, msg.Partition}
	r.mu.Lock()
	if next := msg.Offset + 1; next > r.offsets[k] {
		r.offsets[k] = next
	}
	r.mu.Unlock()
}

// Run consumes until ctx is cancelled, reconnecting after reader failures.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.setState(Stopped)
	topics := r.dispatch.Topics()
	if len(topics) == 0 {
		return errors.New("no routes registered")
	}

	attempt := 0
	for ctx.Err() == nil {
		r.setState(Connecting)
		src, err := r.newSource(topics)
		if err != nil {
			attempt++
			r.logger.WithError(err).WithFields(log.Fields{"group": r.cfg.Group, "attempt": attempt}).Warn("consumer connect failed")
			if r.sleep(ctx, retry.Backoff(attempt, r.cfg.RetryInitial, r.cfg.RetryMax)) != nil {
				break
			}
			continue
		}
		attempt = 0
		r.setState(Subscribed)
		r.logger.WithFields(log.Fields{"group": r.cfg.Group, "topics": topics}).Info("consumer subscribed")

		err = r.consume(ctx, src)
		if cerr := src.Close(); cerr != nil {
			r.logger.WithError(cerr).WithField("group", r.cfg.Group).Debug("close reader")
		}
		if ctx.Err() != nil {
			break
		}
		attempt++
		r.logger.WithError(err).WithField("group", r.cfg.Group).Warn("consumer reader failed, reconnecting")
		if r.sleep(ctx, retry.Backoff(attempt, r.cfg.RetryInitial, r.cfg.RetryMax)) != nil {
			break
		}
	}
	return nil
}

func (r *Runtime) consume(ctx context.Context, src Source) error {
	rebalances := 0
	for {
		msg, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.isRebalance(err) {
				r.setState(Rebalancing)
				rebalances++
				r.logger.WithError(err).WithField("group", r.cfg.Group).Info("consumer group rebalancing")
				if err := r.sleep(ctx, retry.Backoff(rebalances, r.cfg.RetryInitial, r.cfg.RetryMax)); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("fetch: %w", err)
		}
		rebalances = 0
		r.setState(Consuming)
		if err := r.process(ctx, src, msg); err != nil {
			return err
		}
	}
}

// process handles one message and commits it unless ctx ended first or the
// dedup store could not be read.
func (r *Runtime) process(ctx context.Context, src Source, msg bus.Message) error {
	start := r.now()
	defer func() {
		processingSeconds.WithLabelValues(r.cfg.Group, msg.Topic).Observe(r.now().Sub(start).Seconds())
	}()

	ev, err := domain.DecodeEvent(msg.Value)
	if err == nil && msg.Topic != "" && ev.Topic != msg.Topic {
		err = fmt.Errorf("envelope topic %q read from %q", ev.Topic, msg.Topic)
	}
	if err != nil {
		consumedEvents.WithLabelValues(r.cfg.Group, msg.Topic, "poison").Inc()
		r.deadLetter(ctx, DeadLetter{
			Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset,
			Raw: msg.Value, Error: err.Error(), Attempts: 0,
		})
		return r.commit(ctx, src, msg)
	}

	h, ok := r.dispatch.Lookup(ev.Topic, ev.Type)
	if !ok {
		consumedEvents.WithLabelValues(r.cfg.Group, ev.Topic, "unrouted").Inc()
		return r.commit(ctx, src, msg)
	}

	ctx, span := r.tracer.Start(ctx, "consume "+ev.Type, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.consumer.group.name", r.cfg.Group),
		attribute.String("messaging.destination.name", ev.Topic),
		attribute.Int("messaging.destination.partition.id", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
		attribute.String("event.id", ev.ID),
		attribute.String("event.aggregate_id", ev.AggregateID),
		attribute.Int64("event.version", ev.Version),
	)
	defer span.End()

	result, attempts, err := r.apply(ctx, ev, h)
	if err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		}
		if errors.Is(err, ErrDedupUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deferred")
			consumedEvents.WithLabelValues(r.cfg.Group, ev.Topic, "deferred").Inc()
			return fmt.Errorf("event %s left uncommitted: %w", ev.ID, err)
		}
		poison := &domain.PoisonEventError{EventID: ev.ID, Topic: ev.Topic, Type: ev.Type, Attempts: attempts, Err: err}
		span.RecordError(poison)
		span.SetStatus(codes.Error, "dead-lettered")
		result = "dead_lettered"
		evCopy := ev
		r.deadLetter(ctx, DeadLetter{
			Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset,
			Event: &evCopy, Error: poison.Error(), Attempts: attempts,
		})
	}
	span.SetAttributes(attribute.String("event.result", result))
	consumedEvents.WithLabelValues(r.cfg.Group, ev.Topic, result).Inc()
	return r.commit(ctx, src, msg)
}

// apply runs the dedup check and handler with bounded retry. Once the
// handler succeeded only the dedup record is retried.
func (r *Runtime) apply(ctx context.Context, ev domain.Event, h Handler) (string, int, error) {
	fields := log.Fields{"group": r.cfg.Group, "event_id": ev.ID, "type": ev.Type, "aggregate_id": ev.AggregateID, "version": ev.Version}
	handled := false
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			handlerRetries.WithLabelValues(r.cfg.Group, ev.Topic).Inc()
			if err := r.sleep(ctx, retry.Backoff(attempt-1, r.cfg.RetryInitial, r.cfg.RetryMax)); err != nil {
				return "", attempt - 1, err
			}
		}
		if !handled {
			applied, err := r.dedup.Applied(ctx, ev.AggregateID, ev.Type)
			if err != nil {
				lastErr = fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
				r.logger.WithError(err).WithFields(fields).WithField("attempt", attempt).Warn("dedup lookup failed")
				continue
			}
			if ev.Version <= applied {
				r.logger.WithFields(fields).WithField("applied_version", applied).Debug("duplicate event skipped")
				return "duplicate", attempt, nil
			}
			if err := h(ctx, ev); err != nil {
				lastErr = err
				r.logger.WithError(err).WithFields(fields).WithField("attempt", attempt).Warn("handler failed")
				continue
			}
			handled = true
		}
		if _, err := r.dedup.Record(ctx, dedup.Record{AggregateID: ev.AggregateID, EventType: ev.Type, AppliedVersion: ev.Version}); err != nil {
			lastErr = err
			r.logger.WithError(err).WithFields(fields).WithField("attempt", attempt).Warn("dedup record failed")
			continue
		}
		return "applied", attempt, nil
	}
	if handled {
		// The effect is in place; a redelivery re-runs the idempotent handler.
		r.logger.WithError(lastErr).WithFields(fields).Error("event applied but dedup record not stored")
		return "applied", r.cfg.MaxAttempts, nil
	}
	return "", r.cfg.MaxAttempts, lastErr
}

func (r *Runtime) commit(ctx context.Context, src Source, msg bus.Message) error {
	if err := src.Commit(ctx, msg); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	r.advance(msg)
	return nil
}

// deadLetter forwards dl to the dead-letter queue with bounded retry. When
// the queue stays unavailable the full message is logged instead.
func (r *Runtime) deadLetter(ctx context.Context, dl DeadLetter) {
	dl.Group = r.cfg.Group
	dl.FailedAt = r.now().UTC()
	fields := log.Fields{"group": dl.Group, "topic": dl.Topic, "partition": dl.Partition, "offset": dl.Offset, "error": dl.Error}
	if dl.Event != nil {
		fields["event_id"] = dl.Event.ID
		fields["type"] = dl.Event.Type
	}

	var err error
	if r.dlq != nil {
		for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
			if err = r.dlq.DeadLetter(ctx, dl); err == nil {
				r.logger.WithFields(fields).Warn("event dead-lettered")
				return
			}
			if attempt < r.cfg.MaxAttempts {
				if r.sleep(ctx, retry.Backoff(attempt, r.cfg.RetryInitial, r.cfg.RetryMax)) != nil {
					break
				}
			}
		}
	} else {
		err = errors.New("no dead-letter queue configured")
	}

	if dl.Event != nil {
		fields["event"] = *dl.Event
	} else {
		fields["raw"] = string(dl.Raw)
	}
	r.logger.WithError(err).WithFields(fields).Error("dead-letter queue unavailable, dropping event")
}
