package circuitbreaker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. Only the stream
// operations used by the ingest queue are covered; everything else goes through
// Client().
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", RedisProfile().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "queue", cb)

	return &RedisWrapper{
		client: client,
		cb:     cb,
		logger: logger,
	}
}

func (rw *RedisWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", "queue", rw.cb.State(), success)
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// XAdd wraps Redis XADD with circuit breaker
func (rw *RedisWrapper) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XAdd(ctx, args)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// XReadGroup wraps Redis XREADGROUP with circuit breaker. A block timeout
// (redis.Nil) is not a breaker failure.
func (rw *RedisWrapper) XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	var result *redis.XStreamSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XReadGroup(ctx, args)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewXStreamSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// XAck wraps Redis XACK with circuit breaker
func (rw *RedisWrapper) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XAck(ctx, stream, group, ids...)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// XAutoClaim wraps Redis XAUTOCLAIM with circuit breaker
func (rw *RedisWrapper) XAutoClaim(ctx context.Context, args *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	var result *redis.XAutoClaimCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XAutoClaim(ctx, args)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewXAutoClaimCmd(ctx, nil)
		result.SetErr(err)
	}
	return result
}

// XGroupCreateMkStream wraps group creation with circuit breaker
func (rw *RedisWrapper) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XGroupCreateMkStream(ctx, stream, group, start)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// XPending wraps Redis XPENDING with circuit breaker
func (rw *RedisWrapper) XPending(ctx context.Context, stream, group string) *redis.XPendingCmd {
	var result *redis.XPendingCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.XPending(ctx, stream, group)
		return result.Err()
	})
	rw.record(err == nil)
	if err != nil && result == nil {
		result = redis.NewXPendingCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Close closes the underlying Redis client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// Client returns the underlying Redis client for operations not covered by the wrapper
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
