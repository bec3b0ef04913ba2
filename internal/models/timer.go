package models

// TimerKind names one of the three expiry tables.
type TimerKind string

const (
	TimerActivity        TimerKind = "activity"
	TimerAway            TimerKind = "away"
	TimerDisconnectGrace TimerKind = "grace"
)

var TimerKinds = []TimerKind{TimerActivity, TimerAway, TimerDisconnectGrace}

func (k TimerKind) Valid() bool {
	switch k {
	case TimerActivity, TimerAway, TimerDisconnectGrace:
		return true
	}
	return false
}
