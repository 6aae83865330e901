// Package sink fans telemetry, safety events and mode transitions out to
// terminals, files and databases.
package sink

import (
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// TelemetryWriter consumes parsed telemetry records.
type TelemetryWriter interface {
	Write(rec telemetry.Record) error
}

// EventWriter consumes safety events.
type EventWriter interface {
	WriteEvent(ev safety.Event) error
}

// TransitionWriter consumes flight mode changes.
type TransitionWriter interface {
	WriteTransition(tr flight.Transition) error
}

type batchWriter interface {
	WriteBatch(recs []telemetry.Record) error
}

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorGray    = "\x1b[90m"
)

func levelColor(l safety.Level) string {
	switch l {
	case safety.Warning:
		return colorYellow
	case safety.Critical:
		return colorMagenta
	case safety.Emergency:
		return colorRed
	}
	return colorCyan
}

func batteryColor(pct int) string {
	switch {
	case pct <= 10:
		return colorRed
	case pct <= 20:
		return colorYellow
	}
	return colorGreen
}
