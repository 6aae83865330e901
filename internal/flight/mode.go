// Package flight holds the vehicle's flight mode machine and state snapshot.
package flight

import (
	"fmt"

	"droneops-ctl/internal/protocol"
)

// Mode is the controller's view of what the vehicle is doing.
type Mode int

const (
	Idle Mode = iota
	Initializing
	Manual
	TakingOff
	Landing
	EmergencyStopped
)

var modeNames = [...]string{
	Idle:             "idle",
	Initializing:     "initializing",
	Manual:           "manual",
	TakingOff:        "taking_off",
	Landing:          "landing",
	EmergencyStopped: "emergency_stopped",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText encodes the mode by name for JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	for i, name := range modeNames {
		if name == string(b) {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown flight mode %q", b)
}

// Flying reports whether the mode counts as in flight.
func (m Mode) Flying() bool {
	return m == Manual || m == TakingOff || m == Landing
}

// transitions is the complete set of legal edges. Anything absent is rejected.
var transitions = map[Mode][]Mode{
	Idle:             {Initializing, EmergencyStopped},
	Initializing:     {Manual, Idle, EmergencyStopped},
	Manual:           {TakingOff, Landing, EmergencyStopped},
	TakingOff:        {Manual, Idle, EmergencyStopped},
	Landing:          {Idle, Manual, EmergencyStopped},
	EmergencyStopped: {EmergencyStopped},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Mode) bool {
	for _, m := range transitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an ErrInvalidState error for an illegal edge.
func CheckTransition(from, to Mode) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", protocol.ErrInvalidState, from, to)
}
