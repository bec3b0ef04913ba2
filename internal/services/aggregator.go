package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/feed"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"go.uber.org/zap"
)

// Aggregator writes presence rows. It accepts any transition; the event
// handlers and the sweep decide which state to ask for.
type Aggregator struct {
	presenceRepo repositories.PresenceRepository
	userRepo     repositories.UserStatusRepository
	publisher    feed.Publisher
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time
}

func NewAggregator(
	presenceRepo repositories.PresenceRepository,
	userRepo repositories.UserStatusRepository,
	publisher feed.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Aggregator {
	if publisher == nil {
		publisher = feed.Nop{}
	}
	return &Aggregator{
		presenceRepo: presenceRepo,
		userRepo:     userRepo,
		publisher:    publisher,
		metrics:      m,
		log:          log,
		now:          time.Now,
	}
}

// Current returns the user's stored state, or "" when there is no row yet.
func (a *Aggregator) Current(ctx context.Context, userID uuid.UUID) (presence.State, error) {
	cur, err := a.presenceRepo.Get(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("read presence", err)
	}
	return cur.State, nil
}

// UpsertPresence writes next, count and, when given, lastActivityAt for the
// user. changed_at only moves when next differs from the stored state. The
// legacy mirror and the change feed are written afterwards on a best-effort
// basis.
func (a *Aggregator) UpsertPresence(
	ctx context.Context,
	userID uuid.UUID,
	next presence.State,
	count int,
	lastActivityAt *time.Time,
) (*models.PresenceState, error) {
	now := a.now()

	var from presence.State
	cur, err := a.presenceRepo.Get(ctx, userID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
	case err != nil:
		return nil, storageErr("read presence", err)
	default:
		from = cur.State
	}

	p := &models.PresenceState{
		UserID:               userID,
		State:                next,
		ConnectedDeviceCount: count,
		LastActivityAt:       lastActivityAt,
		ChangedAt:            now,
	}
	if cur != nil && cur.State == next {
		p.ChangedAt = cur.ChangedAt
	}
	if err := a.presenceRepo.Upsert(ctx, p); err != nil {
		return nil, storageErr("write presence", err)
	}

	changed := from != next
	if changed {
		fromLabel := string(from)
		if fromLabel == "" {
			fromLabel = "none"
		}
		a.metrics.RecordTransition(fromLabel, string(next))
	}

	if err := a.userRepo.SetStatus(ctx, userID, next.Legacy(), now); err != nil {
		a.metrics.RecordMirrorFailure()
		a.log.Warn("presence written but status mirror failed",
			zap.String("user_id", userID.String()),
			zap.Error(&MirrorError{UserID: userID, Err: err}),
		)
	}

	if err := a.publisher.Publish(ctx, models.ChangeFrom(p, changed)); err != nil {
		a.metrics.RecordFeedFailure()
		a.log.Warn("failed to publish presence change",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	return p, nil
}
