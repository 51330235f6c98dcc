package keylock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitled/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient connects to redis when an address is configured; a nil
// client downgrades locking to in-process only.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, per-key locks stay process-local", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})

	return client
}

var Module = fx.Module("keylock",
	fx.Provide(
		New,
		NewRedisClient,
		NewLocker,
	),
)
