package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
)

// NewRedisClient connects the client behind the job queue, the evaluation
// locks and the progress channel.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	// BLPOP in the worker pins one connection for as long as it blocks.
	if opt.PoolSize > 0 && opt.PoolSize < 4 {
		opt.PoolSize = 4
	}

	rdb := redis.NewClient(opt)
	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := pingUntilReady(ctx, log, "redis", cfg.ConnectAttempts, cfg.ConnectBackoff, ping); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")
	return rdb, nil
}
