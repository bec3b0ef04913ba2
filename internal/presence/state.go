// Package presence holds the presence state machine. It does no I/O: the
// event handlers and the sweep gather signals from storage and ask
// Reconcile what the user's next state is.
package presence

import (
	"fmt"
	"strings"
	"time"
)

type State string

const (
	Online  State = "ONLINE"
	Away    State = "AWAY"
	Offline State = "OFFLINE"
)

func (s State) Valid() bool {
	switch s {
	case Online, Away, Offline:
		return true
	}
	return false
}

// Legacy returns the lowercase form written to the users.status mirror.
func (s State) Legacy() string {
	return strings.ToLower(string(s))
}

func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid presence state %q", v)
	}
	return s, nil
}

type Event int

const (
	EventConnect Event = iota + 1
	EventActivity
	EventDisconnect
	EventActivityExpired
	EventAwayExpired
	EventGraceExpired
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventActivity:
		return "activity"
	case EventDisconnect:
		return "disconnect"
	case EventActivityExpired:
		return "activity_expired"
	case EventAwayExpired:
		return "away_expired"
	case EventGraceExpired:
		return "grace_expired"
	}
	return "unknown"
}

// Signals is everything Reconcile needs to know about a user at the moment
// an event is processed. Current is empty when the user has no presence row.
type Signals struct {
	Event            Event
	Current          State
	ConnectedDevices int
	FreshActivity    bool
}

// Reconcile returns the next state for the given signals. Device counts are
// always the live count read while handling the event, never one captured
// when a timer was created.
func Reconcile(s Signals) State {
	switch s.Event {
	case EventConnect:
		if s.FreshActivity {
			return Online
		}
		return Away
	case EventActivity:
		return Online
	case EventDisconnect:
		// OFFLINE after a disconnect is left to the grace timer.
		if s.Current.Valid() {
			return s.Current
		}
		if s.ConnectedDevices > 0 {
			return Away
		}
		return Offline
	case EventActivityExpired:
		return Away
	case EventAwayExpired, EventGraceExpired:
		if s.ConnectedDevices == 0 {
			return Offline
		}
		return Away
	}
	if s.Current.Valid() {
		return s.Current
	}
	return Offline
}

// Thresholds are the state machine's only timing parameters.
type Thresholds struct {
	IdleToAway       time.Duration
	AwayToOffline    time.Duration
	DisconnectGrace  time.Duration
	ActivityThrottle time.Duration
	HeartbeatTimeout time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		IdleToAway:       5 * time.Minute,
		AwayToOffline:    30 * time.Minute,
		DisconnectGrace:  60 * time.Second,
		ActivityThrottle: 30 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
	}
}

// AwayWindow is how long an AWAY user stays AWAY before the away timer
// fires. It is measured from the moment the activity timer expired, so the
// idle time already spent is subtracted.
func (t Thresholds) AwayWindow() time.Duration {
	d := t.AwayToOffline - t.IdleToAway
	if d < 0 {
		return 0
	}
	return d
}
