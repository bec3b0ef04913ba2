package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/feed"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	conns    *repositories.MemoryConnectionRepository
	timers   *repositories.MemoryTimerRepository
	presence *repositories.MemoryPresenceRepository
	users    *repositories.MemoryUserStatusRepository
	hub      *feed.Hub
	clock    *fakeClock
	metrics  *metrics.Metrics

	agg   *Aggregator
	svc   *PresenceService
	sweep *SweepService
}

type envOption func(*testEnv, *Stores, *presence.Thresholds)

func withThresholds(th presence.Thresholds) envOption {
	return func(_ *testEnv, _ *Stores, t *presence.Thresholds) { *t = th }
}

func withStores(fn func(*Stores)) envOption {
	return func(_ *testEnv, s *Stores, _ *presence.Thresholds) { fn(s) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		conns:    repositories.NewMemoryConnectionRepository(),
		timers:   repositories.NewMemoryTimerRepository(),
		presence: repositories.NewMemoryPresenceRepository(),
		users:    repositories.NewMemoryUserStatusRepository(),
		hub:      feed.NewHub(),
		clock:    &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		metrics:  metrics.New(),
	}
	stores := Stores{
		Connections: env.conns,
		Timers:      env.timers,
		Presence:    env.presence,
		Users:       env.users,
	}
	th := presence.DefaultThresholds()
	for _, opt := range opts {
		opt(env, &stores, &th)
	}

	log := zap.NewNop()
	env.agg = NewAggregator(stores.Presence, stores.Users, env.hub, env.metrics, log)
	env.svc = NewPresenceService(stores, env.agg, th, env.metrics, log)
	env.sweep = NewSweepService(stores, env.agg, th, env.metrics, log)
	env.agg.now = env.clock.Now
	env.svc.now = env.clock.Now
	env.sweep.now = env.clock.Now
	return env
}

// advanceWithHeartbeats moves the clock forward in steps, heartbeating
// every listed device so none of them goes stale.
func (e *testEnv) advanceWithHeartbeats(t *testing.T, total time.Duration, userID uuid.UUID, devices ...string) {
	t.Helper()
	const step = 20 * time.Second
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		d := step
		if total-elapsed < step {
			d = total - elapsed
		}
		e.clock.Advance(d)
		for _, dev := range devices {
			if err := e.svc.Heartbeat(context.Background(), userID, dev); err != nil {
				t.Fatalf("heartbeat: %v", err)
			}
		}
	}
}

// failingConnections fails CountOpen for one user.
type failingConnections struct {
	*repositories.MemoryConnectionRepository
	failFor uuid.UUID
}

func (f *failingConnections) CountOpen(ctx context.Context, userID uuid.UUID) (int, error) {
	if userID == f.failFor {
		return 0, errStoreDown
	}
	return f.MemoryConnectionRepository.CountOpen(ctx, userID)
}

// failingUsers fails every mirror write.
type failingUsers struct {
	*repositories.MemoryUserStatusRepository
	failEnsure bool
}

func (f *failingUsers) EnsureUser(ctx context.Context, userID uuid.UUID) error {
	if f.failEnsure {
		return errStoreDown
	}
	return f.MemoryUserStatusRepository.EnsureUser(ctx, userID)
}

func (f *failingUsers) SetStatus(context.Context, uuid.UUID, string, time.Time) error {
	return errStoreDown
}

var (
	_ repositories.ConnectionRepository = (*failingConnections)(nil)
	_ repositories.UserStatusRepository = (*failingUsers)(nil)
)
