package main

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/bus"
	"vlog-platform/internal/config"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/storage"
)

type settings struct {
	Debug                   bool   `env:"DEBUG"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING,required,notEmpty"`
	DeadLetterQueue         string `env:"DEAD_LETTER_QUEUE" envDefault:"dead-letters"`
	Tables                  config.Tables
	Kafka                   config.Kafka
}

func main() {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := storage.CreateTables(ctx, cfg.StorageConnectionString, cfg.Tables.Names()); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, cfg.StorageConnectionString, []string{cfg.DeadLetterQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("KAFKA_BROKERS must not be empty")
	}
	if err := bus.EnsureTopics(ctx, cfg.Kafka.Brokers[0], domain.Topics(), cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
		log.Fatalf("create topics: %v", err)
	}

	log.Info("storage init complete")
}
