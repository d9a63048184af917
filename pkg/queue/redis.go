package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type listClient interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisPublisher pushes messages onto capped Redis lists, one list per type.
// Readers pop from the right end; the oldest entries are trimmed.
type RedisPublisher struct {
	client    listClient
	keyPrefix string
	maxLen    int64
	seq       atomic.Uint64
	now       func() time.Time
}

// RedisPublisherOption configures RedisPublisher.
type RedisPublisherOption func(*RedisPublisher)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisPublisherOption {
	return func(r *RedisPublisher) {
		r.keyPrefix = prefix
	}
}

// WithMaxLen caps each list. Zero keeps everything.
func WithMaxLen(n int64) RedisPublisherOption {
	return func(r *RedisPublisher) {
		r.maxLen = n
	}
}

// NewRedisPublisher creates a publisher-only queue.
func NewRedisPublisher(client *redis.Client, opts ...RedisPublisherOption) *RedisPublisher {
	return newRedisPublisher(client, opts...)
}

func newRedisPublisher(client listClient, opts ...RedisPublisherOption) *RedisPublisher {
	rp := &RedisPublisher{
		client:    client,
		keyPrefix: "cryptorelay:queue",
		maxLen:    10000,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

// PublishMessage publishes a message (implements QueueService).
func (r *RedisPublisher) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	now := r.now()
	msg := Message{
		ID:        strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(r.seq.Add(1), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := r.QueueKey(msgType)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		if r.maxLen > 0 {
			p.LTrim(ctx, key, 0, r.maxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

// QueueKey returns the list key for msgType.
func (r *RedisPublisher) QueueKey(msgType string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, msgType)
}
