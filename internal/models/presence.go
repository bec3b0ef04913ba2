package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

// PresenceState is the single authoritative status row for a user.
// ChangedAt only moves when State changes.
type PresenceState struct {
	UserID               uuid.UUID      `json:"user_id"`
	State                presence.State `json:"state"`
	ConnectedDeviceCount int            `json:"connected_device_count"`
	LastActivityAt       *time.Time     `json:"last_activity_at,omitempty"`
	ChangedAt            time.Time      `json:"changed_at"`
}

// PresenceChange is published to the change feed after every presence write.
type PresenceChange struct {
	UserID               uuid.UUID      `json:"user_id"`
	State                presence.State `json:"state"`
	Status               string         `json:"status"`
	ConnectedDeviceCount int            `json:"connected_device_count"`
	LastSeen             time.Time      `json:"last_seen"`
	Changed              bool           `json:"changed"`
}

// ChangeFrom builds the feed notification for a written row. LastSeen is the
// last activity time when known, otherwise the time of the last transition.
func ChangeFrom(p *PresenceState, changed bool) PresenceChange {
	lastSeen := p.ChangedAt
	if p.LastActivityAt != nil {
		lastSeen = *p.LastActivityAt
	}
	return PresenceChange{
		UserID:               p.UserID,
		State:                p.State,
		Status:               p.State.Legacy(),
		ConnectedDeviceCount: p.ConnectedDeviceCount,
		LastSeen:             lastSeen,
		Changed:              changed,
	}
}
