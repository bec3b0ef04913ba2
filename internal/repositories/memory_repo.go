package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
)

// The Memory* repositories back STORAGE_DRIVER=memory and the service tests.
// They follow the same semantics as the Postgres and Redis implementations.

// MemoryConnectionRepository keeps only open rows, keyed by user and
// device. A closed row is dropped; nothing reads closed rows back.
type MemoryConnectionRepository struct {
	mu   sync.Mutex
	open map[uuid.UUID]map[string]*models.DeviceConnection
}

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{open: make(map[uuid.UUID]map[string]*models.DeviceConnection)}
}

// must be called with mu held
func (r *MemoryConnectionRepository) insert(userID uuid.UUID, deviceID string, now time.Time) *models.DeviceConnection {
	activity := now
	c := &models.DeviceConnection{
		ID:               uuid.New(),
		UserID:           userID,
		DeviceID:         deviceID,
		ConnectionStatus: models.ConnectionConnected,
		ConnectedAt:      now,
		LastHeartbeatAt:  now,
		LastActivityAt:   &activity,
	}
	devices, ok := r.open[userID]
	if !ok {
		devices = make(map[string]*models.DeviceConnection)
		r.open[userID] = devices
	}
	devices[deviceID] = c
	return c
}

// must be called with mu held
func (r *MemoryConnectionRepository) remove(userID uuid.UUID, deviceID string) {
	devices := r.open[userID]
	delete(devices, deviceID)
	if len(devices) == 0 {
		delete(r.open, userID)
	}
}

func (r *MemoryConnectionRepository) Open(_ context.Context, userID uuid.UUID, deviceID string, now time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.open[userID][deviceID]; ok {
		c.LastHeartbeatAt = now
		return c.ID, nil
	}
	return r.insert(userID, deviceID, now).ID, nil
}

func (r *MemoryConnectionRepository) Close(_ context.Context, userID uuid.UUID, deviceID string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[userID][deviceID]; !ok {
		return false, nil
	}
	r.remove(userID, deviceID)
	return true, nil
}

func (r *MemoryConnectionRepository) TouchHeartbeat(_ context.Context, userID uuid.UUID, deviceID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.open[userID][deviceID]
	if !ok {
		return false, nil
	}
	c.LastHeartbeatAt = now
	return true, nil
}

func (r *MemoryConnectionRepository) TouchActivity(_ context.Context, userID uuid.UUID, deviceID string, now time.Time, throttle time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.open[userID][deviceID]
	if !ok {
		r.insert(userID, deviceID, now)
		return true, nil
	}
	if c.LastActivityAt != nil && c.LastActivityAt.After(now.Add(-throttle)) {
		return false, nil
	}
	activity := now
	c.LastActivityAt = &activity
	c.LastHeartbeatAt = now
	return true, nil
}

func (r *MemoryConnectionRepository) CountOpen(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.open[userID]), nil
}

func (r *MemoryConnectionRepository) ListOpen(_ context.Context, userID uuid.UUID) ([]*models.DeviceConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conns []*models.DeviceConnection
	for _, c := range r.open[userID] {
		cpy := *c
		conns = append(conns, &cpy)
	}
	sort.Slice(conns, func(i, j int) bool {
		if !conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
		}
		return conns[i].DeviceID < conns[j].DeviceID
	})
	return conns, nil
}

func (r *MemoryConnectionRepository) CloseStale(_ context.Context, deadline, _ time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []uuid.UUID
	for userID, devices := range r.open {
		stale := false
		for deviceID, c := range devices {
			if c.LastHeartbeatAt.Before(deadline) {
				delete(devices, deviceID)
				stale = true
			}
		}
		if len(devices) == 0 {
			delete(r.open, userID)
		}
		if stale {
			users = append(users, userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users, nil
}

type MemoryPresenceRepository struct {
	mu     sync.RWMutex
	states map[uuid.UUID]models.PresenceState
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{states: make(map[uuid.UUID]models.PresenceState)}
}

func (r *MemoryPresenceRepository) Get(_ context.Context, userID uuid.UUID) (*models.PresenceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryPresenceRepository) Upsert(_ context.Context, p *models.PresenceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *p
	if cur, ok := r.states[p.UserID]; ok {
		if cur.State == p.State {
			next.ChangedAt = cur.ChangedAt
		}
		if p.LastActivityAt == nil {
			next.LastActivityAt = cur.LastActivityAt
		}
	}
	r.states[p.UserID] = next
	p.ChangedAt = next.ChangedAt
	p.LastActivityAt = next.LastActivityAt
	return nil
}

func (r *MemoryPresenceRepository) List(_ context.Context, userIDs []uuid.UUID) ([]*models.PresenceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := []*models.PresenceState{}
	for _, id := range userIDs {
		if p, ok := r.states[id]; ok {
			states = append(states, &p)
		}
	}
	sortStates(states)
	return states, nil
}

func (r *MemoryPresenceRepository) ListAll(_ context.Context) ([]*models.PresenceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]*models.PresenceState, 0, len(r.states))
	for _, p := range r.states {
		p := p
		states = append(states, &p)
	}
	sortStates(states)
	return states, nil
}

func sortStates(states []*models.PresenceState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID.String() < states[j].UserID.String()
	})
}

type userStatus struct {
	Status   string
	LastSeen time.Time
}

type MemoryUserStatusRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]userStatus
}

func NewMemoryUserStatusRepository() *MemoryUserStatusRepository {
	return &MemoryUserStatusRepository{users: make(map[uuid.UUID]userStatus)}
}

func (r *MemoryUserStatusRepository) EnsureUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		r.users[userID] = userStatus{Status: "offline"}
	}
	return nil
}

func (r *MemoryUserStatusRepository) SetStatus(_ context.Context, userID uuid.UUID, status string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return ErrNotFound
	}
	r.users[userID] = userStatus{Status: status, LastSeen: lastSeen}
	return nil
}

// Status returns the mirrored status and last seen time for a user.
func (r *MemoryUserStatusRepository) Status(userID uuid.UUID) (string, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	return u.Status, u.LastSeen, ok
}

type MemoryTimerRepository struct {
	mu     sync.Mutex
	timers map[models.TimerKind]map[uuid.UUID]time.Time
}

func NewMemoryTimerRepository() *MemoryTimerRepository {
	timers := make(map[models.TimerKind]map[uuid.UUID]time.Time, len(models.TimerKinds))
	for _, k := range models.TimerKinds {
		timers[k] = make(map[uuid.UUID]time.Time)
	}
	return &MemoryTimerRepository{timers: timers}
}

func (r *MemoryTimerRepository) Set(_ context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timers[kind][userID] = expiresAt
	return nil
}

func (r *MemoryTimerRepository) SetIfAbsent(_ context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timers[kind][userID]; ok {
		return false, nil
	}
	r.timers[kind][userID] = expiresAt
	return true, nil
}

func (r *MemoryTimerRepository) Clear(_ context.Context, kind models.TimerKind, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.timers[kind], userID)
	return nil
}

func (r *MemoryTimerRepository) IsActive(_ context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.timers[kind][userID]
	return ok && expiresAt.After(asOf), nil
}

func (r *MemoryTimerRepository) ListExpired(_ context.Context, kind models.TimerKind, asOf time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := []uuid.UUID{}
	for id, expiresAt := range r.timers[kind] {
		if !expiresAt.After(asOf) {
			users = append(users, id)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users, nil
}

func (r *MemoryTimerRepository) Consume(_ context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.timers[kind][userID]
	if !ok || expiresAt.After(asOf) {
		return false, nil
	}
	delete(r.timers[kind], userID)
	return true, nil
}

// ExpiresAt returns the stored expiry for a user's timer.
func (r *MemoryTimerRepository) ExpiresAt(kind models.TimerKind, userID uuid.UUID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[kind][userID]
	return t, ok
}

var (
	_ ConnectionRepository = (*MemoryConnectionRepository)(nil)
	_ PresenceRepository   = (*MemoryPresenceRepository)(nil)
	_ UserStatusRepository = (*MemoryUserStatusRepository)(nil)
	_ TimerRepository      = (*MemoryTimerRepository)(nil)
)
