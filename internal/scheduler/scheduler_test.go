package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prudhvinik1/edgepresence/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	runs atomic.Int32
	err  error
}

func (c *countingSweeper) Run(context.Context) (*services.SweepReport, error) {
	c.runs.Add(1)
	return &services.SweepReport{}, c.err
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()
	a := NewRedisLocker(client, LockKey, time.Minute)
	b := NewRedisLocker(client, LockKey, time.Minute)

	release, ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(LockKey))

	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseAfterExpiryKeepsNewHolder(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()
	a := NewRedisLocker(client, LockKey, time.Second)
	b := NewRedisLocker(client, LockKey, time.Minute)

	releaseA, ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, releaseA(ctx))
	assert.True(t, mr.Exists(LockKey), "a stale holder cannot release the new lock")
}

func TestScheduler_TickSkipsWhenLocked(t *testing.T) {
	client, _ := newRedis(t)
	ctx := context.Background()
	sweeper := &countingSweeper{}
	s := New(sweeper, NewRedisLocker(client, LockKey, time.Minute), time.Hour, zap.NewNop())

	other := NewRedisLocker(client, LockKey, time.Minute)
	release, ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, s.Tick(ctx))
	assert.Equal(t, int32(0), sweeper.runs.Load())

	require.NoError(t, release(ctx))
	assert.True(t, s.Tick(ctx))
	assert.True(t, s.Tick(ctx), "lock is released after each sweep")
	assert.Equal(t, int32(2), sweeper.runs.Load())
}

func TestScheduler_SweepErrorDoesNotStopLoop(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("user failed")}
	s := New(sweeper, nil, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
