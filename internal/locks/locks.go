// Package locks keeps a scheduled job from running on more than one
// instance at a time. Instances sharing Redis coordinate through redsync;
// a single instance uses an in-process lock table.
package locks

import (
	"context"
	"sync"
	"time"
)

// Lock is a held lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out named locks. TryLock does not wait: it reports false
// when someone else holds key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
}

// LocalLocker is a Locker for a single process. ttl is ignored; a lock is
// held until released.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty lock table
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock takes key if it is free
func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &localLock{locker: l, key: key}, true, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}
