package staging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/gyeh/tm2ingest/internal/model"
)

// Locker serializes the lookup-to-terminal-status sequence for one key.
// The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key model.Key) (unlock func(), err error)
}

// KeyMutex is an in-process Locker. Lock entries are dropped once no worker
// holds or waits on them.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[model.Key]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyMutex returns an empty in-process locker.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[model.Key]*keyLock)}
}

func (m *KeyMutex) Lock(ctx context.Context, key model.Key) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyMutex) release(key model.Key, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// held returns the number of keys with a holder or waiter.
func (m *KeyMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// RedisLocker is a Locker shared by every process pointed at the same Redis,
// for several tm2load instances writing one store.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker builds a locker on rdb. ttl bounds how long a crashed holder
// blocks the key and must exceed the per-record submit timeout.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: "tm2load:key:",
		ttl:    ttl,
		retry:  redislock.ExponentialBackoff(10*time.Millisecond, time.Second),
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key model.Key) (func(), error) {
	lock, err := r.client.Obtain(ctx, r.prefix+string(key), r.ttl, &redislock.Options{
		RetryStrategy: r.retry,
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key.Short())
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("obtain lock %s: %w", key.Short(), err)
	}
	return func() {
		// Release with a fresh context so a cancelled batch still frees the key.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(rctx)
	}, nil
}
