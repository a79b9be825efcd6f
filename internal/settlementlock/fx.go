package settlementlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("settlement.lock",
	fx.Provide(NewGuard),
)

// NewGuard returns a redis backed guard when REDIS_ADDR is set and a no-op
// guard otherwise.
func NewGuard(lc fx.Lifecycle, cfg config.Config, settings *config.SettlementConfigHolder, log *zap.Logger) Guard {
	if !cfg.RedisEnabled() {
		log.Info("settlement lock disabled, relying on row locks only")
		return Noop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisGuard(client, settings, log)
}
