package models

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// DeviceConnection is one (user, device) registration. At most one row per
// (UserID, DeviceID) has a nil DisconnectedAt.
type DeviceConnection struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	DeviceID         string           `json:"device_id"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	ConnectedAt      time.Time        `json:"connected_at"`
	LastHeartbeatAt  time.Time        `json:"last_heartbeat_at"`
	LastActivityAt   *time.Time       `json:"last_activity_at,omitempty"`
	DisconnectedAt   *time.Time       `json:"disconnected_at,omitempty"`
}
