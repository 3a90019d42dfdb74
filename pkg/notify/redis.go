package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

// DefaultStreamMaxLen caps the stream length (approximate trimming).
const DefaultStreamMaxLen = 100_000

// RedisPublisher appends every event to a Redis stream. All events of one
// record are written in a single pipeline.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisPublisher(addr, password, stream string) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return NewRedisPublisherWithClient(rdb, stream)
}

func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, rec *chain.TxRecord) error {
	if len(rec.Events) == 0 {
		return nil
	}
	pipe := p.client.TxPipeline()
	for _, ev := range rec.Events {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]any{
				"type":    ev.Type,
				"emitter": ev.Emitter.String(),
				"height":  ev.Height,
				"index":   ev.Index,
				"time":    ev.Time,
				"tx_hash": rec.Hash,
				"data":    string(ev.Data),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s height %d: %w", p.stream, rec.Height, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }
