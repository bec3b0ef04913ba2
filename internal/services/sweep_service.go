package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	passStale    = "stale"
	passActivity = "activity"
	passAway     = "away"
	passGrace    = "grace"
)

// SweepReport counts the users each pass acted on.
type SweepReport struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	StaleUsers      int           `json:"stale_users"`
	ActivityExpired int           `json:"activity_expired"`
	AwayExpired     int           `json:"away_expired"`
	GraceExpired    int           `json:"grace_expired"`
	Errors          int           `json:"errors"`
}

// SweepService turns expired timers and stale heartbeats into state
// transitions. Running it twice in a row changes nothing the second time.
type SweepService struct {
	stores     Stores
	agg        *Aggregator
	thresholds presence.Thresholds
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func NewSweepService(
	stores Stores,
	agg *Aggregator,
	thresholds presence.Thresholds,
	m *metrics.Metrics,
	log *zap.Logger,
) *SweepService {
	return &SweepService{
		stores:     stores,
		agg:        agg,
		thresholds: thresholds,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Run performs the four passes in order. A failure for one user is logged
// and collected; the remaining users are still processed. The returned
// error combines every failure.
func (s *SweepService) Run(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	asOf := s.now()
	report := &SweepReport{StartedAt: asOf}

	var errs error
	errs = multierr.Append(errs, s.stalePass(ctx, asOf, report))
	errs = multierr.Append(errs, s.timerPass(ctx, passActivity, models.TimerActivity, asOf, &report.ActivityExpired, s.expireActivity))
	errs = multierr.Append(errs, s.timerPass(ctx, passAway, models.TimerAway, asOf, &report.AwayExpired, s.expireAway))
	errs = multierr.Append(errs, s.timerPass(ctx, passGrace, models.TimerDisconnectGrace, asOf, &report.GraceExpired, s.expireGrace))

	report.Errors = len(multierr.Errors(errs))
	report.Duration = time.Since(start)
	s.metrics.ObserveSweep(report.Duration.Seconds())

	s.log.Info("sweep finished",
		zap.Int("stale_users", report.StaleUsers),
		zap.Int("activity_expired", report.ActivityExpired),
		zap.Int("away_expired", report.AwayExpired),
		zap.Int("grace_expired", report.GraceExpired),
		zap.Int("errors", report.Errors),
		zap.Duration("dur", report.Duration),
	)
	return report, errs
}

// stalePass force-closes devices whose heartbeat is older than the deadline
// and treats each affected user as disconnected.
func (s *SweepService) stalePass(ctx context.Context, asOf time.Time, report *SweepReport) error {
	deadline := asOf.Add(-s.thresholds.HeartbeatTimeout)
	users, err := s.stores.Connections.CloseStale(ctx, deadline, asOf)
	if err != nil {
		s.metrics.RecordSweepError(passStale)
		return fmt.Errorf("%s pass: %w", passStale, storageErr("close stale connections", err))
	}

	var errs error
	for _, userID := range users {
		if err := s.staleUser(ctx, userID, asOf); err != nil {
			errs = multierr.Append(errs, s.userFailed(passStale, userID, err))
			continue
		}
		report.StaleUsers++
	}
	s.metrics.AddSweepItems(passStale, report.StaleUsers)
	return errs
}

func (s *SweepService) staleUser(ctx context.Context, userID uuid.UUID, asOf time.Time) error {
	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return storageErr("count connections", err)
	}
	if count == 0 {
		if _, err := s.stores.Timers.SetIfAbsent(ctx, models.TimerDisconnectGrace, userID, asOf.Add(s.thresholds.DisconnectGrace)); err != nil {
			return storageErr("set disconnect grace", err)
		}
	}
	current, err := s.agg.Current(ctx, userID)
	if err != nil {
		return err
	}
	next := presence.Reconcile(presence.Signals{
		Event:            presence.EventDisconnect,
		Current:          current,
		ConnectedDevices: count,
	})
	_, err = s.agg.UpsertPresence(ctx, userID, next, count, nil)
	return err
}

// timerPass runs expire for every user whose timer of kind has expired at
// asOf, then consumes the timer. expire returns false when it decided the
// timer is no longer due, in which case it is left alone.
func (s *SweepService) timerPass(
	ctx context.Context,
	pass string,
	kind models.TimerKind,
	asOf time.Time,
	processed *int,
	expire func(ctx context.Context, userID uuid.UUID, asOf time.Time) (bool, error),
) error {
	users, err := s.stores.Timers.ListExpired(ctx, kind, asOf)
	if err != nil {
		s.metrics.RecordSweepError(pass)
		return fmt.Errorf("%s pass: %w", pass, storageErr("list expired timers", err))
	}

	var errs error
	for _, userID := range users {
		due, err := expire(ctx, userID, asOf)
		if err != nil {
			errs = multierr.Append(errs, s.userFailed(pass, userID, err))
			continue
		}
		if !due {
			continue
		}
		if _, err := s.stores.Timers.Consume(ctx, kind, userID, asOf); err != nil {
			errs = multierr.Append(errs, s.userFailed(pass, userID, storageErr("consume timer", err)))
			continue
		}
		*processed++
	}
	s.metrics.AddSweepItems(pass, *processed)
	return errs
}

func (s *SweepService) expireActivity(ctx context.Context, userID uuid.UUID, asOf time.Time) (bool, error) {
	// activity may have refreshed the timer since it was listed
	active, err := s.stores.Timers.IsActive(ctx, models.TimerActivity, userID, asOf)
	if err != nil {
		return false, storageErr("read activity timer", err)
	}
	if active {
		return false, nil
	}

	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return false, storageErr("count connections", err)
	}
	next := presence.Reconcile(presence.Signals{
		Event:            presence.EventActivityExpired,
		ConnectedDevices: count,
	})
	if _, err := s.agg.UpsertPresence(ctx, userID, next, count, nil); err != nil {
		return false, err
	}
	if err := s.stores.Timers.Set(ctx, models.TimerAway, userID, asOf.Add(s.thresholds.AwayWindow())); err != nil {
		return false, storageErr("set away timer", err)
	}
	return true, nil
}

func (s *SweepService) expireAway(ctx context.Context, userID uuid.UUID, asOf time.Time) (bool, error) {
	return true, s.expireWithCount(ctx, userID, presence.EventAwayExpired)
}

func (s *SweepService) expireGrace(ctx context.Context, userID uuid.UUID, asOf time.Time) (bool, error) {
	return true, s.expireWithCount(ctx, userID, presence.EventGraceExpired)
}

// expireWithCount re-reads the live device count so a user who reconnected
// after the timer was created is not declared OFFLINE.
func (s *SweepService) expireWithCount(ctx context.Context, userID uuid.UUID, event presence.Event) error {
	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return storageErr("count connections", err)
	}
	current, err := s.agg.Current(ctx, userID)
	if err != nil {
		return err
	}
	next := presence.Reconcile(presence.Signals{
		Event:            event,
		Current:          current,
		ConnectedDevices: count,
	})
	_, err = s.agg.UpsertPresence(ctx, userID, next, count, nil)
	return err
}

func (s *SweepService) userFailed(pass string, userID uuid.UUID, err error) error {
	s.metrics.RecordSweepError(pass)
	s.log.Warn("sweep failed for user",
		zap.String("pass", pass),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	)
	return fmt.Errorf("%s pass, user %s: %w", pass, userID, err)
}
