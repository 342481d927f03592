package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/worker"
)

// NewRedisClient creates a Redis client and waits until it answers.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	// The submission worker parks in BLPOP; the read timeout must outlast it.
	if floor := worker.PollTimeout * 2; opt.ReadTimeout < floor {
		opt.ReadTimeout = floor
	}

	rdb := redis.NewClient(opt)

	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := pingWithRetry(ctx, log, "redis", connectAttempts, connectBackoff, ping); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}
