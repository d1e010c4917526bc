// Package app wires the shared infrastructure of a service binary: config,
// logging, stores, cache, publisher, consumer pool and HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vlog-platform/internal/bus"
	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/consumer"
	"vlog-platform/internal/dedup"
	"vlog-platform/internal/publisher"
	"vlog-platform/internal/server"
	"vlog-platform/internal/storage"
)

// Deps are the clients handed to a service constructor.
type Deps struct {
	Config    config.Config
	Logger    *log.Logger
	Storage   *storage.Storage
	Redis     *redis.Client
	Cache     *cache.Manager
	Publisher *publisher.Publisher
}

// Service exposes HTTP routes.
type Service interface {
	Register(e *echo.Echo)
}

// Subscriber registers event handlers. Services implementing it get a
// consumer pool.
type Subscriber interface {
	Subscribe(d *consumer.Dispatch) error
}

// Runner is background work a service runs next to its server, such as
// periodic maintenance.
type Runner interface {
	Run(ctx context.Context) error
}

// Options describes what a binary needs besides the shared clients.
type Options struct {
	Name      string
	Publishes bool
	Build     func(d Deps) (Service, error)
}

// NewLogger returns the JSON logger every binary uses.
func NewLogger(debug bool) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// Main runs a service binary until SIGINT or SIGTERM.
func Main(opts Options) {
	cfg, err := config.Load(opts.Name)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := NewLogger(cfg.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, logger, opts); err != nil {
		logger.WithError(err).Fatal("service stopped")
	}
	logger.Info("service stopped")
}

// Run builds the service from cfg and runs its HTTP server, consumer pool,
// outbox reconciler and any Runner work until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger, opts Options) error {
	entry := logger.WithField("service", cfg.Service)

	store, err := storage.New(cfg.StorageConnectionString, cfg.Tables)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	deps := Deps{Config: cfg, Logger: logger, Storage: store, Redis: rc, Cache: cache.New(rc, logger)}

	var reconciler *publisher.Reconciler
	if opts.Publishes {
		producer := bus.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		outbox := publisher.NewRedisOutbox(rc, cfg.Service)
		instanceID := cfg.Service + "-" + uuid.NewString()
		if host, err := os.Hostname(); err == nil {
			instanceID = host + "-" + instanceID
		}
		deps.Publisher = publisher.New(producer, outbox, publisher.Config{
			MaxAttempts:  cfg.Publisher.MaxAttempts,
			Timeout:      cfg.Publisher.Timeout,
			RetryInitial: cfg.Publisher.RetryInitial,
			RetryMax:     cfg.Publisher.RetryMax,
		}, logger, instanceID)
		reconciler = publisher.NewReconciler(outbox, deps.Publisher, cfg.Publisher.ReconcileInterval, cfg.Publisher.ReconcileBatch, logger)
	}

	svc, err := opts.Build(deps)
	if err != nil {
		return fmt.Errorf("build %s: %w", opts.Name, err)
	}

	pool, err := newPool(cfg, svc, rc, logger)
	if err != nil {
		return err
	}

	checks := map[string]server.Check{
		"redis": func(ctx context.Context) error { return rc.Ping(ctx).Err() },
	}
	if pool != nil {
		checks["consumer"] = PoolCheck(pool)
	}
	e := server.New(server.Options{Service: metricsName(cfg.Service), Checks: checks, Logger: logger})
	svc.Register(e)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, e, cfg.ListenAddr) })
	if pool != nil {
		g.Go(func() error { return pool.Run(ctx) })
	}
	if reconciler != nil {
		g.Go(func() error { return reconciler.Run(ctx) })
	}
	if r, ok := svc.(Runner); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	entry.WithField("addr", cfg.ListenAddr).Info("service started")
	return g.Wait()
}

// newPool returns nil when svc consumes nothing.
func newPool(cfg config.Config, svc Service, rc *redis.Client, logger *log.Logger) (*consumer.Pool, error) {
	sub, ok := svc.(Subscriber)
	if !ok {
		return nil, nil
	}
	d := consumer.NewDispatch()
	if err := sub.Subscribe(d); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if d.Len() == 0 {
		return nil, nil
	}
	dlq, err := storage.NewDeadLetterQueue(cfg.StorageConnectionString, cfg.DeadLetterQueue)
	if err != nil {
		return nil, fmt.Errorf("dead-letter queue: %w", err)
	}
	store := dedup.NewRedisStore(rc, cfg.Consumer.Group, cfg.Consumer.DedupRetention)
	factory := func(topics []string) (consumer.Source, error) {
		return bus.NewReader(bus.ReaderConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Consumer.Group,
			Topics:      topics,
			StartOffset: cfg.Kafka.StartOffset,
		}), nil
	}
	return consumer.NewPool(cfg.Consumer.Instances, func(int) *consumer.Runtime {
		return consumer.New(consumer.Config{
			Group:        cfg.Consumer.Group,
			MaxAttempts:  cfg.Consumer.MaxAttempts,
			RetryInitial: cfg.Consumer.RetryInitial,
			RetryMax:     cfg.Consumer.RetryMax,
		}, d, factory, store, dlq, logger)
	}), nil
}

// PoolCheck reports the pool ready once every runtime holds a membership.
func PoolCheck(pool *consumer.Pool) server.Check {
	return func(context.Context) error {
		if pool.Ready() {
			return nil
		}
		return fmt.Errorf("consumer states %v", pool.States())
	}
}

// metricsName turns a service name into a Prometheus subsystem.
func metricsName(service string) string {
	out := []rune(service)
	for i, r := range out {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
