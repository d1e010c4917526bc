package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vlog-platform/internal/domain"
	"vlog-platform/internal/retry"
)

var (
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_events_total",
		Help: "Events handed to the bus, by topic and result.",
	}, []string{"topic", "result"})
	publishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_retries_total",
		Help: "Failed send attempts that were retried.",
	}, []string{"topic"})
)

// Sender writes one keyed message to the bus.
type Sender interface {
	Send(ctx context.Context, topic string, key, value []byte) error
}

// Parker holds events whose publish attempts were exhausted so they can be
// re-sent later.
type Parker interface {
	Park(ctx context.Context, ev domain.Event) error
}

type Config struct {
	MaxAttempts  int
	Timeout      time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Publisher emits one event per committed mutation. It never undoes the
// mutation when the bus is unreachable.
type Publisher struct {
	sender     Sender
	parker     Parker
	cfg        Config
	logger     *log.Logger
	instanceID string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	tracer     trace.Tracer
}

func New(sender Sender, parker Parker, cfg Config, logger *log.Logger, instanceID string) *Publisher {
	if sender == nil {
		panic("publisher.New: sender is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &Publisher{
		sender:     sender,
		parker:     parker,
		cfg:        cfg,
		logger:     logger,
		instanceID: instanceID,
		now:        time.Now,
		sleep:      retry.Sleep,
		tracer:     otel.Tracer("vlog-platform/publisher"),
	}
}

// Emit publishes on the topic the catalog assigns to eventType.
func (p *Publisher) Emit(ctx context.Context, eventType, aggregateID string, version int64, payload any) (domain.Event, error) {
	topic, ok := domain.TopicFor(eventType)
	if !ok {
		return domain.Event{}, fmt.Errorf("unknown event type %q", eventType)
	}
	return p.Publish(ctx, topic, eventType, aggregateID, version, payload)
}

// Publish builds the envelope and sends it keyed by aggregateID. It must be
// called only after the local write committed. When every attempt fails the
// event is parked and the returned error wraps domain.ErrDegradedSync.
func (p *Publisher) Publish(ctx context.Context, topic, eventType, aggregateID string, version int64, payload any) (domain.Event, error) {
	if err := domain.Validate(topic, eventType); err != nil {
		return domain.Event{}, err
	}
	if aggregateID == "" {
		return domain.Event{}, errors.New("aggregate id is required")
	}
	if version <= 0 {
		return domain.Event{}, fmt.Errorf("version must be positive, got %d", version)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	ev := domain.Event{
		ID:                 uuid.NewString(),
		Topic:              topic,
		Type:               eventType,
		AggregateID:        aggregateID,
		Version:            version,
		Payload:            raw,
		ProducedAt:         p.now().UTC(),
		ProducerInstanceID: p.instanceID,
	}

	ctx, span := p.tracer.Start(ctx, "publish "+eventType, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.String("event.id", ev.ID),
		attribute.String("event.aggregate_id", aggregateID),
		attribute.Int64("event.version", version),
	)

	if err := p.Send(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish exhausted")
		publishedEvents.WithLabelValues(topic, "degraded").Inc()
		p.park(ctx, ev)
		return ev, fmt.Errorf("%w: %s %s v%d: %v", domain.ErrDegradedSync, eventType, aggregateID, version, err)
	}
	publishedEvents.WithLabelValues(topic, "ok").Inc()
	return ev, nil
}

// Send delivers an already built envelope with bounded retry. The
// reconciler reuses it for parked events so their ids stay stable.
func (p *Publisher) Send(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		lastErr = p.sender.Send(ctx, ev.Topic, []byte(ev.AggregateID), value)
		if lastErr == nil {
			return nil
		}
		p.logger.WithError(lastErr).WithFields(log.Fields{
			"event_id": ev.ID,
			"topic":    ev.Topic,
			"type":     ev.Type,
			"attempt":  attempt,
		}).Warn("publish attempt failed")
		if attempt == p.cfg.MaxAttempts {
			break
		}
		publishRetries.WithLabelValues(ev.Topic).Inc()
		if err := p.sleep(ctx, retry.Backoff(attempt, p.cfg.RetryInitial, p.cfg.RetryMax)); err != nil {
			return fmt.Errorf("%w: %v (last error: %v)", domain.ErrTransientBus, err, lastErr)
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", domain.ErrTransientBus, p.cfg.MaxAttempts, lastErr)
}

func (p *Publisher) park(ctx context.Context, ev domain.Event) {
	fields := log.Fields{"event_id": ev.ID, "topic": ev.Topic, "type": ev.Type, "aggregate_id": ev.AggregateID, "version": ev.Version}
	if p.parker == nil {
		p.logger.WithFields(fields).Error("publish exhausted, no outbox configured, event dropped")
		return
	}
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()
	if err := p.parker.Park(parkCtx, ev); err != nil {
		p.logger.WithError(err).WithFields(fields).Error("publish exhausted and outbox unavailable, event dropped")
		return
	}
	p.logger.WithFields(fields).Warn("publish exhausted, event parked for reconciliation")
}
