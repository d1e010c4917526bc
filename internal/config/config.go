package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Config holds settings shared by every service binary.
type Config struct {
	Service    string `env:"SERVICE_NAME"`
	Debug      bool   `env:"DEBUG"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING,required,notEmpty"`
	Tables                  Tables
	DeadLetterQueue         string `env:"DEAD_LETTER_QUEUE" envDefault:"dead-letters"`

	RedisConnectionString string `env:"REDIS_CONNECTION_STRING,required,notEmpty"`

	Kafka     Kafka
	Publisher Publisher
	Consumer  Consumer
	Cache     Cache
}

// Tables names the Azure tables backing primary stores and projections.
type Tables struct {
	Contents      string `env:"CONTENTS_TABLE" envDefault:"contents"`
	Categories    string `env:"CATEGORIES_TABLE" envDefault:"categories"`
	Comments      string `env:"COMMENTS_TABLE" envDefault:"comments"`
	Notifications string `env:"NOTIFICATIONS_TABLE" envDefault:"notifications"`
	Projections   string `env:"PROJECTIONS_TABLE" envDefault:"searchindex"`
	Analytics     string `env:"ANALYTICS_TABLE" envDefault:"analytics"`
}

// Names returns every configured table name.
func (t Tables) Names() []string {
	return []string{t.Contents, t.Categories, t.Comments, t.Notifications, t.Projections, t.Analytics}
}

type Kafka struct {
	Brokers           []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Partitions        int      `env:"KAFKA_PARTITIONS" envDefault:"6"`
	ReplicationFactor int      `env:"KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	StartOffset       string   `env:"KAFKA_START_OFFSET" envDefault:"earliest"`
}

type Publisher struct {
	MaxAttempts       int           `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"5"`
	Timeout           time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"3s"`
	RetryInitial      time.Duration `env:"PUBLISH_RETRY_INITIAL" envDefault:"100ms"`
	RetryMax          time.Duration `env:"PUBLISH_RETRY_MAX" envDefault:"1s"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10s"`
	ReconcileBatch    int           `env:"RECONCILE_BATCH" envDefault:"50"`
}

type Consumer struct {
	Group          string        `env:"CONSUMER_GROUP"`
	Instances      int           `env:"CONSUMER_INSTANCES" envDefault:"1"`
	MaxAttempts    int           `env:"HANDLER_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitial   time.Duration `env:"HANDLER_RETRY_INITIAL" envDefault:"200ms"`
	RetryMax       time.Duration `env:"HANDLER_RETRY_MAX" envDefault:"10s"`
	DedupRetention time.Duration `env:"DEDUP_RETENTION" envDefault:"168h"`
}

type Cache struct {
	EntityTTL time.Duration `env:"CACHE_ENTITY_TTL" envDefault:"1h"`
	ListTTL   time.Duration `env:"CACHE_LIST_TTL" envDefault:"5m"`
}

// Load parses the environment. service is used when SERVICE_NAME is unset
// and as the default consumer group.
func Load(service string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Service == "" {
		cfg.Service = service
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = cfg.Service + "-group"
	}
	if cfg.Consumer.Instances <= 0 {
		cfg.Consumer.Instances = 1
	}
	if cfg.Publisher.MaxAttempts <= 0 {
		cfg.Publisher.MaxAttempts = 1
	}
	if cfg.Consumer.MaxAttempts <= 0 {
		cfg.Consumer.MaxAttempts = 1
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	return cfg, nil
}

// RedisOptions accepts either a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func (c Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
