package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// RedisProgressPublisher publishes progress events on the test's PubSub channel.
type RedisProgressPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisProgressPublisher creates a RedisProgressPublisher.
func NewRedisProgressPublisher(rdb *redis.Client, log zerolog.Logger) *RedisProgressPublisher {
	return &RedisProgressPublisher{
		rdb: rdb,
		log: log.With().Str("component", "progress_publisher").Logger(),
	}
}

// Publish is fire-and-forget; a lost event never affects an evaluation.
func (p *RedisProgressPublisher) Publish(ctx context.Context, ev ws.ProgressEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode progress event")
		return
	}
	channel := config.CacheKey.EvaluationProgressChannel(ev.TestID.String())
	if err := p.rdb.Publish(context.WithoutCancel(ctx), channel, raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish progress event")
	}
}

// Subscribe attaches to the progress channel of testID. The returned channel
// closes once closer.Close is called.
func (p *RedisProgressPublisher) Subscribe(ctx context.Context, testID uuid.UUID) (<-chan *redis.Message, io.Closer, error) {
	channel := config.CacheKey.EvaluationProgressChannel(testID.String())
	pubsub := p.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return pubsub.Channel(), pubsub, nil
}
