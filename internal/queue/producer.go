package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/circuitbreaker"
	"github.com/recallstack/memoryd/internal/metrics"
)

// Producer appends ingestion envelopes to the stream. It is the front door's
// only dependency, so enqueue latency stays independent of the stores.
type Producer struct {
	rdb    *circuitbreaker.RedisWrapper
	stream string
	logger *zap.Logger
}

// NewProducer creates a producer for the given stream.
func NewProducer(rdb *circuitbreaker.RedisWrapper, stream string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{rdb: rdb, stream: stream, logger: logger}
}

// Enqueue appends one envelope. The returned id is the stream entry id.
func (p *Producer) Enqueue(ctx context.Context, env Envelope) (string, error) {
	payload, err := env.encode()
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	metrics.MemoriesSubmitted.Inc()
	return id, nil
}
