// Package lock keeps two imports of the same kind from running at once.
package lock

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// DefaultTTL bounds how long a crashed run can keep the lock.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "crm-import:"

// Key returns the lock key of a command.
func Key(command string) string {
	return keyPrefix + command
}

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker obtains a named run lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Close() error
}

// Noop grants every lock. Used when no lock backend is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

func (Noop) Close() error { return nil }

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisLocker holds locks in Redis through redislock.
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, log logger.Logger) (*RedisLocker, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CategoryNetwork, errors.CodeConnectionFailed, "failed to connect to redis").
			WithSuggestion("check lock.redis_addr or unset it to run without a lock").
			WithContext("addr", cfg.Addr)
	}

	return &RedisLocker{
		client: client,
		locker: redislock.New(client),
		ttl:    ttl,
		logger: log.WithComponent("lock").WithField("addr", cfg.Addr),
	}, nil
}

// Acquire obtains key without retrying. A lock held elsewhere fails with
// lock_unavailable.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	held, err := l.locker.Obtain(ctx, key, l.ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.LockUnavailable(key, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryNetwork, errors.CodeConnectionFailed, "failed to obtain import lock").
			WithContext("lock_key", key)
	}

	l.logger.WithFields(logger.Fields{"lock_key": key, "ttl": l.ttl.String()}).Debug("Import lock obtained")
	return func(ctx context.Context) error {
		if err := held.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
			l.logger.WithError(err).WithField("lock_key", key).Warn("Failed to release import lock")
			return err
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
