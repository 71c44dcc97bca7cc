package locks

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/redis"
)

// keyPrefix namespaces lock keys in Redis
const keyPrefix = "lock:"

// RedsyncLocker takes locks with the Redlock algorithm from
// go-redsync/redsync. A lock expires after its ttl even if the holder dies.
type RedsyncLocker struct {
	redsync *redsync.Redsync
}

// NewRedsyncLocker creates a locker on redisClient
func NewRedsyncLocker(redisClient *redis.Client) (*RedsyncLocker, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	return &RedsyncLocker{redsync: redsync.New(pool)}, nil
}

// TryLock makes a single attempt to take key for ttl
func (l *RedsyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	mutex := l.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, errors.ConnectionError("failed to acquire distributed lock", err).
			WithContext("key", key)
	}
	return &redsyncLock{mutex: mutex, key: key}, true, nil
}

type redsyncLock struct {
	mutex *redsync.Mutex
	key   string
}

func (l *redsyncLock) Key() string { return l.key }

// Release gives the lock back. A lock that already expired, or that expired
// and was taken by someone else, is not an error.
func (l *redsyncLock) Release(ctx context.Context) error {
	_, err := l.mutex.UnlockContext(ctx)
	if err == nil || stderrors.Is(err, redsync.ErrLockAlreadyExpired) {
		return nil
	}
	var taken *redsync.ErrTaken
	if stderrors.As(err, &taken) {
		return nil
	}
	return errors.ConnectionError("failed to release distributed lock", err).
		WithContext("key", l.key)
}
