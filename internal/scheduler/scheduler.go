// Package scheduler runs the reconciliation sweep on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"github.com/prudhvinik1/edgepresence/internal/services"
	"go.uber.org/zap"
)

const LockKey = "presence:sweep:lock"

type Sweeper interface {
	Run(ctx context.Context) (*services.SweepReport, error)
}

// Scheduler fires the sweep every interval. A tick that cannot take the
// lock is skipped; the next tick tries again.
type Scheduler struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	log      *zap.Logger
}

func New(sweeper Sweeper, locker Locker, interval time.Duration, log *zap.Logger) *Scheduler {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweep scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep if the lock is free. It reports whether a sweep ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	release, ok, err := s.locker.Acquire(ctx)
	if err != nil {
		s.log.Error("sweep lock", zap.Error(err))
		return false
	}
	if !ok {
		s.log.Debug("sweep skipped, lock held elsewhere")
		return false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("sweep lock release", zap.Error(err))
		}
	}()

	if _, err := s.sweeper.Run(ctx); err != nil {
		// per-user failures are already logged by the sweep
		s.log.Error("sweep finished with errors", zap.Error(err))
	}
	return true
}
