package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"go.uber.org/zap"
)

// Stores groups the repositories the presence core reads and writes.
type Stores struct {
	Connections repositories.ConnectionRepository
	Timers      repositories.TimerRepository
	Presence    repositories.PresenceRepository
	Users       repositories.UserStatusRepository
}

type PresenceService struct {
	stores     Stores
	agg        *Aggregator
	thresholds presence.Thresholds
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

type ConnectResult struct {
	DeviceID             string         `json:"device_id"`
	State                presence.State `json:"state"`
	ConnectedDeviceCount int            `json:"connected_device_count"`
}

type DisconnectResult struct {
	ConnectedDeviceCount int `json:"connected_device_count"`
}

type ActivityResult struct {
	State                presence.State `json:"state"`
	ConnectedDeviceCount int            `json:"connected_device_count"`
}

func NewPresenceService(
	stores Stores,
	agg *Aggregator,
	thresholds presence.Thresholds,
	m *metrics.Metrics,
	log *zap.Logger,
) *PresenceService {
	return &PresenceService{
		stores:     stores,
		agg:        agg,
		thresholds: thresholds,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Connect registers deviceID for the user, generating an id when none is
// given, and cancels any pending disconnect grace.
func (s *PresenceService) Connect(ctx context.Context, userID uuid.UUID, deviceID string) (*ConnectResult, error) {
	if userID == uuid.Nil {
		s.metrics.RecordEvent("connect", "unauthenticated")
		return nil, ErrUnauthenticated
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	res, err := s.connect(ctx, userID, deviceID)
	s.record("connect", err)
	return res, err
}

func (s *PresenceService) connect(ctx context.Context, userID uuid.UUID, deviceID string) (*ConnectResult, error) {
	now := s.now()

	if err := s.stores.Users.EnsureUser(ctx, userID); err != nil {
		return nil, storageErr("ensure user", err)
	}
	if _, err := s.stores.Connections.Open(ctx, userID, deviceID, now); err != nil {
		return nil, storageErr("open connection", err)
	}
	if err := s.stores.Timers.Clear(ctx, models.TimerDisconnectGrace, userID); err != nil {
		return nil, storageErr("clear disconnect grace", err)
	}
	fresh, err := s.stores.Timers.IsActive(ctx, models.TimerActivity, userID, now)
	if err != nil {
		return nil, storageErr("read activity timer", err)
	}
	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return nil, storageErr("count connections", err)
	}

	next := presence.Reconcile(presence.Signals{
		Event:            presence.EventConnect,
		ConnectedDevices: count,
		FreshActivity:    fresh,
	})
	var lastActivity *time.Time
	if fresh {
		lastActivity = &now
	}
	p, err := s.agg.UpsertPresence(ctx, userID, next, count, lastActivity)
	if err != nil {
		return nil, err
	}

	return &ConnectResult{
		DeviceID:             deviceID,
		State:                p.State,
		ConnectedDeviceCount: p.ConnectedDeviceCount,
	}, nil
}

// Disconnect closes deviceID. When it was the user's last device a single
// disconnect grace timer is started; OFFLINE is left to the sweep.
func (s *PresenceService) Disconnect(ctx context.Context, userID uuid.UUID, deviceID string) (*DisconnectResult, error) {
	if userID == uuid.Nil {
		s.metrics.RecordEvent("disconnect", "unauthenticated")
		return nil, ErrUnauthenticated
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		s.metrics.RecordEvent("disconnect", "invalid")
		return nil, ErrDeviceRequired
	}

	res, err := s.disconnect(ctx, userID, deviceID)
	s.record("disconnect", err)
	return res, err
}

func (s *PresenceService) disconnect(ctx context.Context, userID uuid.UUID, deviceID string) (*DisconnectResult, error) {
	now := s.now()

	if err := s.stores.Users.EnsureUser(ctx, userID); err != nil {
		return nil, storageErr("ensure user", err)
	}
	if _, err := s.stores.Connections.Close(ctx, userID, deviceID, now); err != nil {
		return nil, storageErr("close connection", err)
	}
	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return nil, storageErr("count connections", err)
	}
	if count == 0 {
		if err := s.startGrace(ctx, userID, now); err != nil {
			return nil, err
		}
	}

	current, err := s.agg.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := presence.Reconcile(presence.Signals{
		Event:            presence.EventDisconnect,
		Current:          current,
		ConnectedDevices: count,
	})
	if _, err := s.agg.UpsertPresence(ctx, userID, next, count, nil); err != nil {
		return nil, err
	}

	return &DisconnectResult{ConnectedDeviceCount: count}, nil
}

func (s *PresenceService) startGrace(ctx context.Context, userID uuid.UUID, now time.Time) error {
	created, err := s.stores.Timers.SetIfAbsent(ctx, models.TimerDisconnectGrace, userID, now.Add(s.thresholds.DisconnectGrace))
	if err != nil {
		return storageErr("set disconnect grace", err)
	}
	if created {
		s.log.Debug("disconnect grace started",
			zap.String("user_id", userID.String()),
			zap.Duration("grace", s.thresholds.DisconnectGrace),
		)
	}
	return nil
}

// Activity marks the user as active. A device id is optional; when given
// the device's ledger row is refreshed, or opened on first contact.
func (s *PresenceService) Activity(ctx context.Context, userID uuid.UUID, deviceID string) (*ActivityResult, error) {
	if userID == uuid.Nil {
		s.metrics.RecordEvent("activity", "unauthenticated")
		return nil, ErrUnauthenticated
	}

	res, err := s.activity(ctx, userID, strings.TrimSpace(deviceID))
	s.record("activity", err)
	return res, err
}

func (s *PresenceService) activity(ctx context.Context, userID uuid.UUID, deviceID string) (*ActivityResult, error) {
	now := s.now()

	if err := s.stores.Users.EnsureUser(ctx, userID); err != nil {
		return nil, storageErr("ensure user", err)
	}
	if deviceID != "" {
		if _, err := s.stores.Connections.TouchActivity(ctx, userID, deviceID, now, s.thresholds.ActivityThrottle); err != nil {
			return nil, storageErr("touch activity", err)
		}
	}
	if err := s.stores.Timers.Set(ctx, models.TimerActivity, userID, now.Add(s.thresholds.IdleToAway)); err != nil {
		return nil, storageErr("set activity timer", err)
	}
	if err := s.stores.Timers.Clear(ctx, models.TimerAway, userID); err != nil {
		return nil, storageErr("clear away timer", err)
	}
	count, err := s.stores.Connections.CountOpen(ctx, userID)
	if err != nil {
		return nil, storageErr("count connections", err)
	}
	// a device opened by this call counts as a reconnect
	if count > 0 {
		if err := s.stores.Timers.Clear(ctx, models.TimerDisconnectGrace, userID); err != nil {
			return nil, storageErr("clear disconnect grace", err)
		}
	}

	next := presence.Reconcile(presence.Signals{
		Event:            presence.EventActivity,
		ConnectedDevices: count,
	})
	p, err := s.agg.UpsertPresence(ctx, userID, next, count, &now)
	if err != nil {
		return nil, err
	}

	return &ActivityResult{
		State:                p.State,
		ConnectedDeviceCount: p.ConnectedDeviceCount,
	}, nil
}

// Heartbeat only keeps the device's ledger row from being swept as stale.
// Without a device id, or without an open row, it does nothing.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID, deviceID string) error {
	if userID == uuid.Nil {
		s.metrics.RecordEvent("heartbeat", "unauthenticated")
		return ErrUnauthenticated
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		s.metrics.RecordEvent("heartbeat", "ok")
		return nil
	}

	var err error
	if _, touchErr := s.stores.Connections.TouchHeartbeat(ctx, userID, deviceID, s.now()); touchErr != nil {
		err = storageErr("touch heartbeat", touchErr)
	}
	s.record("heartbeat", err)
	return err
}

// Get returns nil without an error for a user that has no presence row.
func (s *PresenceService) Get(ctx context.Context, userID uuid.UUID) (*models.PresenceState, error) {
	p, err := s.stores.Presence.Get(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read presence", err)
	}
	return p, nil
}

func (s *PresenceService) List(ctx context.Context, userIDs []uuid.UUID) ([]*models.PresenceState, error) {
	states, err := s.stores.Presence.List(ctx, userIDs)
	if err != nil {
		return nil, storageErr("list presence", err)
	}
	return states, nil
}

func (s *PresenceService) ListAll(ctx context.Context) ([]*models.PresenceState, error) {
	states, err := s.stores.Presence.ListAll(ctx)
	if err != nil {
		return nil, storageErr("list presence", err)
	}
	return states, nil
}

// Devices lists the user's open device connections.
func (s *PresenceService) Devices(ctx context.Context, userID uuid.UUID) ([]*models.DeviceConnection, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	conns, err := s.stores.Connections.ListOpen(ctx, userID)
	if err != nil {
		return nil, storageErr("list connections", err)
	}
	if conns == nil {
		conns = []*models.DeviceConnection{}
	}
	return conns, nil
}

func (s *PresenceService) record(event string, err error) {
	if err != nil {
		s.metrics.RecordEvent(event, "error")
		return
	}
	s.metrics.RecordEvent(event, "ok")
}
