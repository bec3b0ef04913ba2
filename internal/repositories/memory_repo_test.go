package repositories

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryConnectionRepository_OneOpenRowPerDevice drives random
// interleavings of open, close and activity and checks that no device ever
// has two open rows.
func TestMemoryConnectionRepository_OneOpenRowPerDevice(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()
	userID := uuid.New()
	devices := []string{"laptop", "phone", "tablet"}
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				device := devices[rng.Intn(len(devices))]
				at := now.Add(time.Duration(i) * time.Second)
				switch rng.Intn(3) {
				case 0:
					_, err := repo.Open(ctx, userID, device, at)
					assert.NoError(t, err)
				case 1:
					_, err := repo.Close(ctx, userID, device, at)
					assert.NoError(t, err)
				case 2:
					_, err := repo.TouchActivity(ctx, userID, device, at, 30*time.Second)
					assert.NoError(t, err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	open, err := repo.ListOpen(ctx, userID)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, c := range open {
		assert.False(t, seen[c.DeviceID], "device %s has two open rows", c.DeviceID)
		seen[c.DeviceID] = true
	}

	count, err := repo.CountOpen(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, len(open), count)
}

func TestMemoryConnectionRepository_ReconnectReusesRow(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	first, err := repo.Open(ctx, userID, "d1", now)
	require.NoError(t, err)
	second, err := repo.Open(ctx, userID, "d1", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	closed, err := repo.Close(ctx, userID, "d1", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, closed)

	third, err := repo.Open(ctx, userID, "d1", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "a closed row is never reopened")
}

func TestMemoryConnectionRepository_TouchActivityThrottle(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	throttle := 30 * time.Second

	written, err := repo.TouchActivity(ctx, userID, "d1", now, throttle)
	require.NoError(t, err)
	assert.True(t, written, "first contact opens a row")

	written, err = repo.TouchActivity(ctx, userID, "d1", now.Add(10*time.Second), throttle)
	require.NoError(t, err)
	assert.False(t, written)

	written, err = repo.TouchActivity(ctx, userID, "d1", now.Add(throttle), throttle)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestMemoryConnectionRepository_CloseStale(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()
	now := time.Now()

	_, _ = repo.Open(ctx, u1, "a", now.Add(-2*time.Minute))
	_, _ = repo.Open(ctx, u1, "b", now.Add(-3*time.Minute))
	_, _ = repo.Open(ctx, u2, "a", now)

	users, err := repo.CloseStale(ctx, now.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u1}, users)

	count, _ := repo.CountOpen(ctx, u1)
	assert.Equal(t, 0, count)
	count, _ = repo.CountOpen(ctx, u2)
	assert.Equal(t, 1, count)
}

func TestMemoryPresenceRepository_ChangedAtOnlyOnTransition(t *testing.T) {
	repo := NewMemoryPresenceRepository()
	ctx := context.Background()
	userID := uuid.New()
	t0 := time.Now()
	activity := t0

	require.NoError(t, repo.Upsert(ctx, &models.PresenceState{
		UserID: userID, State: presence.Online, ConnectedDeviceCount: 1, LastActivityAt: &activity, ChangedAt: t0,
	}))

	p := &models.PresenceState{UserID: userID, State: presence.Online, ConnectedDeviceCount: 2, ChangedAt: t0.Add(time.Minute)}
	require.NoError(t, repo.Upsert(ctx, p))
	assert.True(t, t0.Equal(p.ChangedAt), "same state keeps changed_at")
	require.NotNil(t, p.LastActivityAt, "nil activity keeps the stored value")
	assert.True(t, activity.Equal(*p.LastActivityAt))

	p = &models.PresenceState{UserID: userID, State: presence.Away, ConnectedDeviceCount: 2, ChangedAt: t0.Add(2 * time.Minute)}
	require.NoError(t, repo.Upsert(ctx, p))
	assert.True(t, t0.Add(2*time.Minute).Equal(p.ChangedAt))

	got, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, presence.Away, got.State)
	assert.Equal(t, 2, got.ConnectedDeviceCount)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTimerRepository_MatchesRedisSemantics(t *testing.T) {
	repo := NewMemoryTimerRepository()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	added, err := repo.SetIfAbsent(ctx, models.TimerDisconnectGrace, userID, now)
	require.NoError(t, err)
	assert.True(t, added)

	active, err := repo.IsActive(ctx, models.TimerDisconnectGrace, userID, now)
	require.NoError(t, err)
	assert.False(t, active)

	users, err := repo.ListExpired(ctx, models.TimerDisconnectGrace, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{userID}, users)

	consumed, err := repo.Consume(ctx, models.TimerDisconnectGrace, userID, now)
	require.NoError(t, err)
	assert.True(t, consumed)

	_, ok := repo.ExpiresAt(models.TimerDisconnectGrace, userID)
	assert.False(t, ok)
}

func TestMemoryTimerRepository_RejectsUnknownKind(t *testing.T) {
	repo := NewMemoryTimerRepository()
	ctx := context.Background()

	err := repo.Set(ctx, models.TimerKind("idle"), uuid.New(), time.Now())
	assert.ErrorIs(t, err, ErrUnknownTimerKind)

	_, err = repo.SetIfAbsent(ctx, models.TimerKind("idle"), uuid.New(), time.Now())
	assert.ErrorIs(t, err, ErrUnknownTimerKind)
}

func TestMemoryConnectionRepository_DropsClosedRows(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	for i := 0; i < 100; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		_, err := repo.Open(ctx, userID, "tab", at)
		require.NoError(t, err)
		closed, err := repo.Close(ctx, userID, "tab", at)
		require.NoError(t, err)
		assert.True(t, closed)
	}
	assert.Empty(t, repo.open, "closed rows are not retained")

	_, _ = repo.Open(ctx, userID, "a", now)
	_, _ = repo.Open(ctx, userID, "b", now.Add(time.Hour))
	_, err := repo.CloseStale(ctx, now.Add(time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, repo.open[userID], 1)

	open, err := repo.ListOpen(ctx, userID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].DeviceID)
}
