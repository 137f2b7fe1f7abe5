package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "SOLUSDT")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_DifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "A")
	require.NoError(t, err)
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := k.Lock(ctx2, "B")
	require.NoError(t, err)
	unlockB()
}

func TestKeyed_ContextCancel(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "A")
	assert.True(t, errors.Is(err, ErrNotAcquired))

	assert.NoError(t, unlock())
	assert.NoError(t, unlock()) // idempotent
	assert.Equal(t, 0, k.Len())
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:symbol:SOLUSDT", `.+`, 10*time.Second).SetVal(true)
	mock.Regexp().ExpectEvalSha(releaseScript.Hash(), []string{"lock:symbol:SOLUSDT"}, `.+`).SetVal(int64(1))

	r := NewRedis(db, "lock:symbol:", 10*time.Second)
	unlock, err := r.Lock(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.NoError(t, unlock())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_ReleaseErrorIsReturned(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:symbol:SOLUSDT", `.+`, 10*time.Second).SetVal(true)
	mock.Regexp().ExpectEvalSha(releaseScript.Hash(), []string{"lock:symbol:SOLUSDT"}, `.+`).SetErr(errors.New("connection reset"))

	r := NewRedis(db, "lock:symbol:", 10*time.Second)
	unlock, err := r.Lock(context.Background(), "SOLUSDT")
	require.NoError(t, err)

	err = unlock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, errors.Is(err, ErrLost))
	assert.Equal(t, err, unlock(), "later calls report the same outcome")
}

func TestRedis_ReleaseAfterExpiryReportsLost(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:symbol:SOLUSDT", `.+`, 10*time.Second).SetVal(true)
	// another holder owns the key now, so the script deletes nothing
	mock.Regexp().ExpectEvalSha(releaseScript.Hash(), []string{"lock:symbol:SOLUSDT"}, `.+`).SetVal(int64(0))

	r := NewRedis(db, "lock:symbol:", 10*time.Second)
	unlock, err := r.Lock(context.Background(), "SOLUSDT")
	require.NoError(t, err)

	assert.True(t, errors.Is(unlock(), ErrLost))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_HeldUntilContextDone(t *testing.T) {
	db, mock := redismock.NewClientMock()
	for i := 0; i < 10; i++ {
		mock.Regexp().ExpectSetNX("lock:symbol:SOLUSDT", `.+`, 10*time.Second).SetVal(false)
	}

	r := NewRedis(db, "lock:symbol:", 10*time.Second)
	r.retry = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Lock(ctx, "SOLUSDT")
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestRedis_SetNXError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("k", `.+`, time.Second).SetErr(errors.New("connection refused"))

	r := NewRedis(db, "", time.Second)
	_, err := r.Lock(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAcquired))
}
