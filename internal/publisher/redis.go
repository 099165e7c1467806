package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker delivers events over a Redis connection: PUBLISH for the
// live channel, ZADD for the durable sorted-set log.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker parses a redis:// URL and builds a client. The connection
// itself is established lazily; Ping is how callers confirm it.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) AppendLog(ctx context.Context, key string, score float64, payload []byte) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err()
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
