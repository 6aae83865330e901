package safety

import (
	"fmt"
	"time"
)

// Level ranks safety events.
type Level int

const (
	Info Level = iota
	Warning
	Critical
	Emergency
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Emergency:
		return "emergency"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*l = Info
	case "warning":
		*l = Warning
	case "critical":
		*l = Critical
	case "emergency":
		*l = Emergency
	default:
		return fmt.Errorf("unknown safety level %q", b)
	}
	return nil
}

// Condition tags what triggered an event.
type Condition string

const (
	CondLinkLoss          Condition = "link_loss"
	CondBatteryEmergency  Condition = "battery_emergency"
	CondBatteryAutoLand   Condition = "battery_auto_land"
	CondBatteryWarning    Condition = "battery_warning"
	CondFlightTime        Condition = "flight_time"
	CondFlightTimeWarning Condition = "flight_time_warning"
	CondAltitudeLimit     Condition = "altitude_limit"
	CondAltitudeWarning   Condition = "altitude_warning"
	CondActionResult      Condition = "action_result"
	CondMonitoring        Condition = "monitoring"
)

// Action is an autonomous command issued by the supervisor.
type Action string

const (
	ActionNone      Action = ""
	ActionLand      Action = "land"
	ActionEmergency Action = "emergency_stop"
)

// Event is one safety notification. It is delivered once to each observer.
type Event struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action,omitempty"`
	At        time.Time `json:"at"`
}
