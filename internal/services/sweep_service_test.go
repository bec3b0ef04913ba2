package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_GraceExpiryGoesOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.Activity(ctx, userID, "d1")
	require.NoError(t, err)
	_, err = env.svc.Disconnect(ctx, userID, "d1")
	require.NoError(t, err)

	// before the grace window ends nothing happens
	env.clock.Advance(59 * time.Second)
	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.GraceExpired)

	env.clock.Advance(time.Second)
	report, err = env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GraceExpired)

	p, err := env.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, presence.Offline, p.State)
	assert.Equal(t, 0, p.ConnectedDeviceCount)

	status, lastSeen, ok := env.users.Status(userID)
	require.True(t, ok)
	assert.Equal(t, "offline", status)
	assert.Equal(t, env.clock.Now(), lastSeen)

	_, ok = env.timers.ExpiresAt(models.TimerDisconnectGrace, userID)
	assert.False(t, ok, "grace consumed")
}

func TestSweep_GraceExpiryAfterReconnectStaysAway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.Activity(ctx, userID, "d1")
	require.NoError(t, err)
	// a grace timer left over from a race with a reconnect
	require.NoError(t, env.timers.Set(ctx, models.TimerDisconnectGrace, userID, env.clock.Now()))

	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GraceExpired)

	p, err := env.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, presence.Away, p.State)
	assert.Equal(t, 1, p.ConnectedDeviceCount)
}

func TestSweep_AwayExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	connected, gone := uuid.New(), uuid.New()

	_, err := env.svc.Connect(ctx, connected, "d1")
	require.NoError(t, err)
	_, err = env.svc.Connect(ctx, gone, "d1")
	require.NoError(t, err)
	_, err = env.svc.Disconnect(ctx, gone, "d1")
	require.NoError(t, err)
	require.NoError(t, env.timers.Clear(ctx, models.TimerDisconnectGrace, gone))

	now := env.clock.Now()
	require.NoError(t, env.timers.Set(ctx, models.TimerAway, connected, now))
	require.NoError(t, env.timers.Set(ctx, models.TimerAway, gone, now))

	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AwayExpired)

	p, err := env.svc.Get(ctx, connected)
	require.NoError(t, err)
	assert.Equal(t, presence.Away, p.State, "a connected idle device does not force offline")

	p, err = env.svc.Get(ctx, gone)
	require.NoError(t, err)
	assert.Equal(t, presence.Offline, p.State)

	_, ok := env.timers.ExpiresAt(models.TimerAway, connected)
	assert.False(t, ok, "consumed either way")
}

func TestSweep_ZeroAwayWindowOfflineInSameRun(t *testing.T) {
	th := presence.DefaultThresholds()
	th.AwayToOffline = th.IdleToAway
	env := newTestEnv(t, withThresholds(th))
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.Activity(ctx, userID, "")
	require.NoError(t, err)

	env.clock.Advance(th.IdleToAway)
	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ActivityExpired)
	assert.Equal(t, 1, report.AwayExpired)

	p, err := env.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, presence.Offline, p.State)
}

func TestSweep_StaleHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stale, alive := uuid.New(), uuid.New()

	_, err := env.svc.Activity(ctx, stale, "crashed-tab")
	require.NoError(t, err)
	_, err = env.svc.Connect(ctx, alive, "d1")
	require.NoError(t, err)

	env.advanceWithHeartbeats(t, 2*time.Minute, alive, "d1")
	sweepAt := env.clock.Now()
	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StaleUsers)

	count, err := env.conns.CountOpen(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	graceAt, ok := env.timers.ExpiresAt(models.TimerDisconnectGrace, stale)
	require.True(t, ok)
	assert.Equal(t, sweepAt.Add(60*time.Second), graceAt)

	p, err := env.svc.Get(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, presence.Online, p.State, "offline is left to the grace timer")
	assert.Equal(t, 0, p.ConnectedDeviceCount)

	count, err = env.conns.CountOpen(ctx, alive)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweep_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	idle, gone, busy := uuid.New(), uuid.New(), uuid.New()

	_, err := env.svc.Activity(ctx, idle, "")
	require.NoError(t, err)
	_, err = env.svc.Connect(ctx, gone, "d1")
	require.NoError(t, err)
	_, err = env.svc.Disconnect(ctx, gone, "d1")
	require.NoError(t, err)
	_, err = env.svc.Connect(ctx, busy, "d1")
	require.NoError(t, err)

	env.advanceWithHeartbeats(t, 6*time.Minute, busy, "d1")
	_, err = env.svc.Activity(ctx, busy, "d1")
	require.NoError(t, err)

	_, err = env.sweep.Run(ctx)
	require.NoError(t, err)
	once, err := env.svc.ListAll(ctx)
	require.NoError(t, err)

	report, err := env.sweep.Run(ctx)
	require.NoError(t, err)
	twice, err := env.svc.ListAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, SweepReport{StartedAt: report.StartedAt, Duration: report.Duration}, *report, "second run acts on nothing")
}

// TestSweep_ContinuesAfterUserFailure tests that one user's storage error
// does not stop the rest of the pass
func TestSweep_ContinuesAfterUserFailure(t *testing.T) {
	broken := uuid.New()
	env := newTestEnv(t, func(e *testEnv, s *Stores, _ *presence.Thresholds) {
		s.Connections = &failingConnections{MemoryConnectionRepository: e.conns, failFor: broken}
	})
	ctx := context.Background()
	healthy := uuid.New()

	now := env.clock.Now()
	require.NoError(t, env.timers.Set(ctx, models.TimerDisconnectGrace, broken, now))
	require.NoError(t, env.timers.Set(ctx, models.TimerDisconnectGrace, healthy, now))

	report, err := env.sweep.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, report.GraceExpired)
	assert.Equal(t, 1, report.Errors)

	p, err := env.svc.Get(ctx, healthy)
	require.NoError(t, err)
	assert.Equal(t, presence.Offline, p.State)

	_, ok := env.timers.ExpiresAt(models.TimerDisconnectGrace, broken)
	assert.True(t, ok, "kept for the next run")
}

type failingTimers struct {
	*repositories.MemoryTimerRepository
	failKind models.TimerKind
}

func (f *failingTimers) ListExpired(ctx context.Context, kind models.TimerKind, asOf time.Time) ([]uuid.UUID, error) {
	if kind == f.failKind {
		return nil, errStoreDown
	}
	return f.MemoryTimerRepository.ListExpired(ctx, kind, asOf)
}

func TestSweep_ContinuesAfterPassFailure(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv, s *Stores, _ *presence.Thresholds) {
		s.Timers = &failingTimers{MemoryTimerRepository: e.timers, failKind: models.TimerActivity}
	})
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, env.timers.Set(ctx, models.TimerDisconnectGrace, userID, env.clock.Now()))

	report, err := env.sweep.Run(ctx)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, report.GraceExpired)

	p, err := env.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, presence.Offline, p.State)
}
