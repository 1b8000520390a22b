package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/circuitbreaker"
	"github.com/recallstack/memoryd/internal/metrics"
)

// Handler processes one decoded envelope. Returning an error leaves the
// message pending for redelivery via the reclaim loop.
type Handler func(ctx context.Context, env Envelope) error

// ConsumerConfig tunes the stream consumer.
type ConsumerConfig struct {
	Stream          string
	Group           string
	Consumer        string
	BatchSize       int
	BlockTimeout    time.Duration
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
}

// Consumer reads envelopes from the stream with a consumer group, acking on
// success. Unacked messages are reclaimed after ReclaimMinIdle, which gives
// at-least-once delivery across crashes and handler failures.
type Consumer struct {
	rdb     *circuitbreaker.RedisWrapper
	cfg     ConsumerConfig
	handler Handler
	logger  *zap.Logger
}

// NewConsumer creates a consumer. Call Run to start it.
func NewConsumer(rdb *circuitbreaker.RedisWrapper, cfg ConsumerConfig, handler Handler, logger *zap.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.ReclaimMinIdle <= 0 {
		cfg.ReclaimMinIdle = time.Minute
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{rdb: rdb, cfg: cfg, handler: handler, logger: logger}
}

// EnsureGroup creates the consumer group, tolerating prior existence.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled, reading and dispatching envelopes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    int64(c.cfg.BatchSize),
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Warn("stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
		c.updateDepth(ctx)
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		// malformed entry: ack so it cannot poison the group
		c.logger.Warn("dropping message without payload", zap.String("id", msg.ID))
		c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		return
	}
	env, err := decodeEnvelope(payload)
	if err != nil {
		c.logger.Warn("dropping undecodable envelope", zap.String("id", msg.ID), zap.Error(err))
		c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		return
	}

	if err := c.handler(ctx, env); err != nil {
		// leave pending; the reclaim loop redelivers after min idle
		c.logger.Warn("envelope processing failed, leaving pending",
			zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Warn("ack failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

// reclaimLoop periodically claims messages that another (or a crashed)
// consumer left pending and reprocesses them.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := "0-0"
		for {
			msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   c.cfg.Stream,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				MinIdle:  c.cfg.ReclaimMinIdle,
				Start:    start,
				Count:    int64(c.cfg.BatchSize),
			}).Result()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn("reclaim failed", zap.Error(err))
				}
				break
			}
			for _, msg := range msgs {
				c.process(ctx, msg)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

func (c *Consumer) updateDepth(ctx context.Context) {
	n, err := c.rdb.Client().XLen(ctx, c.cfg.Stream).Result()
	if err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
