package settlementlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/zap"
)

const keyPrefix = "fieldops:settlement:"

var ErrRunInProgress = apperror.ConcurrencyTimeout("settlement_in_progress", "another settlement run holds the lock")

// Guard serializes settlement runs across processes. Database row locks stay
// authoritative; the guard only keeps overlapping runs from queueing on them.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// InvoiceKey and PayrollKey name the run being guarded, e.g. invoice:2025-W02.
func InvoiceKey(weekLabel string) string { return "invoice:" + weekLabel }

func PayrollKey(weekLabel string) string { return "payroll:" + weekLabel }

type noopGuard struct{}

func (noopGuard) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// Noop returns a guard that never blocks.
func Noop() Guard { return noopGuard{} }

type redisGuard struct {
	locker   *redislock.Client
	settings *config.SettlementConfigHolder
	log      *zap.Logger
}

// NewRedisGuard builds a guard on a redis client. Lock TTL and the wait
// budget are read from the settlement config on every acquire.
func NewRedisGuard(client redis.UniversalClient, settings *config.SettlementConfigHolder, log *zap.Logger) Guard {
	return &redisGuard{
		locker:   redislock.New(client),
		settings: settings,
		log:      log.Named("settlement.lock"),
	}
}

func (g *redisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	cfg := g.settings.Get()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.LockWait)
	defer cancel()

	lock, err := g.locker.Obtain(waitCtx, keyPrefix+key, cfg.RunLockTTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			g.log.Warn("settlement lock not obtained", zap.String("key", key), zap.Duration("wait", cfg.LockWait))
			return nil, apperror.Wrap(ErrRunInProgress, err)
		}
		return nil, fmt.Errorf("obtain settlement lock %s: %w", key, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			g.log.Warn("settlement lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
