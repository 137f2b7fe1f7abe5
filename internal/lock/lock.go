// Package lock serializes work per key. The evaluator uses it so that two
// recomputes of the same symbol's controls never interleave.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when a lock could not be taken before ctx ended.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLost is returned on release when the lock expired and was no longer ours.
	ErrLost = errors.New("lock lost before release")
)

// Locker acquires an exclusive lock on key. The returned func releases it;
// only the first call does any work.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Keyed is an in-process Locker with one mutex per key.
// Entries are reference counted and removed when unused.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewKeyed creates an in-process keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) (func() error, error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
		return nil
	}, nil
}

func (k *Keyed) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently tracked.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

var _ Locker = (*Keyed)(nil)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX, for several evaluator processes
// sharing one ledger.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a Redis lock. ttl bounds how long a crashed holder blocks others.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock polls SET NX until acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func() error, error) {
	full := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", full, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-time.After(r.retry):
		}
	}

	var (
		once   sync.Once
		relErr error
	)
	return func() error {
		once.Do(func() {
			// Release must not depend on the caller's ctx, which may be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, r.client, []string{full}, token).Int64()
			switch {
			case err != nil:
				relErr = fmt.Errorf("redis release %s: %w", full, err)
			case n == 0:
				relErr = fmt.Errorf("%w: %s", ErrLost, full)
			}
		})
		return relErr
	}, nil
}

var _ Locker = (*Redis)(nil)
