package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"vlog-platform/internal/consumer"
)

// Queue messages are capped at 64 KiB. Encoded dead letters stay below
// maxDeadLetterMessage, leaving room for the request envelope.
const (
	maxDeadLetterMessage = 60 * 1024
	maxDeadLetterError   = 4 * 1024
)

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// DeadLetterQueue stores events a consumer group gave up on.
type DeadLetterQueue struct {
	queue *azqueue.QueueClient
}

func NewDeadLetterQueue(connStr, name string) (*DeadLetterQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return &DeadLetterQueue{queue: q}, nil
}

// encodeDeadLetter serialises dl so it fits one queue message. When it is
// too large the event payload is dropped first, then the raw bytes are cut
// and the error text shortened, and Truncated is set.
func encodeDeadLetter(dl consumer.DeadLetter) (string, error) {
	data, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}
	if len(data) <= maxDeadLetterMessage {
		return string(data), nil
	}

	dl.Truncated = true
	if dl.Event != nil && len(dl.Event.Payload) > 0 {
		ev := *dl.Event
		ev.Payload = nil
		dl.Event = &ev
	}
	if len(dl.Error) > maxDeadLetterError {
		dl.Error = dl.Error[:maxDeadLetterError]
	}
	raw := dl.Raw
	dl.Raw = nil
	rest, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}
	// raw is base64 encoded, four bytes out for every three in.
	budget := (maxDeadLetterMessage - len(rest) - len(`,"raw":""`)) / 4 * 3
	if budget > 0 && len(raw) > 0 {
		dl.Raw = raw[:min(len(raw), budget)]
	}
	data, err = json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}
	if len(data) > maxDeadLetterMessage {
		return "", fmt.Errorf("encode dead letter: %d bytes after trimming", len(data))
	}
	return string(data), nil
}

func (q *DeadLetterQueue) DeadLetter(ctx context.Context, dl consumer.DeadLetter) error {
	msg, err := encodeDeadLetter(dl)
	if err != nil {
		return err
	}
	// Dead letters are kept until an operator removes them.
	ttl := int32(-1)
	if _, err := q.queue.EnqueueMessage(ctx, msg, &azqueue.EnqueueMessageOptions{TimeToLive: &ttl}); err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	return nil
}

// CreateQueues creates every named queue, ignoring ones that exist.
func CreateQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return fmt.Errorf("create queue %s: %w", name, err)
			}
		}
	}
	return nil
}
