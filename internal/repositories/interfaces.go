package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
)

// ConnectionRepository is the device connection ledger. It never touches
// presence_state; callers recompute the aggregate after mutating it.
type ConnectionRepository interface {
	// Open registers an open connection for the device, or refreshes the
	// heartbeat of the one already open, and returns its record id.
	Open(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (uuid.UUID, error)
	// Close marks the device's open connection as disconnected. Closing an
	// already closed device is a no-op and reports false.
	Close(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (bool, error)
	TouchHeartbeat(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (bool, error)
	// TouchActivity records activity for the device, opening a connection
	// if none is open. The write is skipped when the previous activity is
	// younger than throttle.
	TouchActivity(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time, throttle time.Duration) (bool, error)
	CountOpen(ctx context.Context, userID uuid.UUID) (int, error)
	ListOpen(ctx context.Context, userID uuid.UUID) ([]*models.DeviceConnection, error)
	// CloseStale closes every open connection whose last heartbeat is older
	// than deadline and returns the distinct users affected.
	CloseStale(ctx context.Context, deadline, now time.Time) ([]uuid.UUID, error)
}

type PresenceRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.PresenceState, error)
	// Upsert writes the row. ChangedAt is only stored when State differs
	// from the stored state; the stored values are written back into p.
	Upsert(ctx context.Context, p *models.PresenceState) error
	List(ctx context.Context, userIDs []uuid.UUID) ([]*models.PresenceState, error)
	ListAll(ctx context.Context) ([]*models.PresenceState, error)
}

// UserStatusRepository is the legacy users.status / users.last_seen mirror.
type UserStatusRepository interface {
	EnsureUser(ctx context.Context, userID uuid.UUID) error
	SetStatus(ctx context.Context, userID uuid.UUID, status string, lastSeen time.Time) error
}

// TimerRepository stores the three expiry tables keyed by user id.
// Expired rows are never removed on read; the sweep consumes them after
// acting so a failed transition is retried on the next run.
type TimerRepository interface {
	Set(ctx context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) error
	// SetIfAbsent creates the timer only if the user has none of this kind.
	SetIfAbsent(ctx context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) (bool, error)
	Clear(ctx context.Context, kind models.TimerKind, userID uuid.UUID) error
	// IsActive reports whether the user has a timer of this kind that has
	// not expired as of asOf.
	IsActive(ctx context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error)
	ListExpired(ctx context.Context, kind models.TimerKind, asOf time.Time) ([]uuid.UUID, error)
	// Consume deletes the timer only if it is still expired as of asOf, so a
	// timer refreshed after ListExpired survives.
	Consume(ctx context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error)
}
