package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a record read from or written to the bus.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Producer writes keyed messages. The hash balancer routes every message
// with the same key to the same partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		// Retries are owned by the publisher so that backoff stays bounded
		// by the request timeout.
		MaxAttempts:  1,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	}
	return &Producer{writer: w}
}

// Send writes one message to topic.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("write message to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// ReaderConfig configures a consumer group reader.
type ReaderConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	StartOffset string
}

// Reader is a consumer group member. Offsets are committed explicitly.
type Reader struct {
	reader *kafka.Reader
}

func NewReader(cfg ReaderConfig) *Reader {
	startOffset := kafka.FirstOffset
	if strings.EqualFold(strings.TrimSpace(cfg.StartOffset), "latest") {
		startOffset = kafka.LastOffset
	}
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
		// Zero commit interval makes CommitMessages synchronous.
		CommitInterval: 0,
	})
	return &Reader{reader: r}
}

func (r *Reader) Fetch(ctx context.Context) (Message, error) {
	m, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

func (r *Reader) Commit(ctx context.Context, msg Message) error {
	return r.reader.CommitMessages(ctx, kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset})
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// IsRebalance reports whether a fetch error is a temporary group condition
// that resolves without reconnecting.
func IsRebalance(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, kafka.RebalanceInProgress) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// EnsureTopics creates the given topics on the cluster controller, ignoring
// topics that already exist.
func EnsureTopics(ctx context.Context, broker string, topics []string, partitions, replication int) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("lookup controller: %w", err)
	}
	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: t, NumPartitions: partitions, ReplicationFactor: replication})
	}
	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}
