// Package emulator answers the vehicle text protocol over UDP so the
// controller can be exercised without hardware.
package emulator

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"droneops-ctl/internal/protocol"
	"droneops-ctl/internal/telemetry"
)

const (
	takeoffHeightCM = 80
	maxHeightCM     = 3000
	minTakeoffBat   = 10
)

// vehicle is the simulated airframe. Callers hold Server.mu.
type vehicle struct {
	model     string
	sdk       bool
	flying    bool
	heightCM  int
	battery   float64
	yaw       int
	speed     int
	motorTime float64
	tempC     int
}

func newVehicle(model string, battery int) *vehicle {
	return &vehicle{model: model, battery: float64(battery), speed: 50, tempC: 55}
}

// batteryDrain returns battery consumption per second of flight based on model.
func batteryDrain(model string) float64 {
	switch model {
	case "tello":
		return 0.10
	case "p8-pro":
		return 0.08
	case "racer":
		return 0.25
	default:
		return 0.12
	}
}

// advance moves the simulation forward by dt.
func (v *vehicle) advance(dt time.Duration) {
	if !v.flying {
		return
	}
	sec := dt.Seconds()
	v.battery -= batteryDrain(v.model) * sec
	if v.battery < 0 {
		v.battery = 0
	}
	v.motorTime += sec
	// Hover drift of a few centimetres.
	v.heightCM += rand.Intn(3) - 1
	if v.heightCM < 20 {
		v.heightCM = 20
	}
}

// sample renders the current state as a telemetry record.
func (v *vehicle) sample() telemetry.Record {
	rec := telemetry.Record{
		BatteryPct:   int(v.battery + 0.5),
		AltitudeCM:   v.heightCM,
		TemperatureC: v.tempC,
		MotorTimeSec: int(v.motorTime),
		Attitude:     telemetry.Attitude{Yaw: v.yaw},
		BarometerCM:  float64(v.heightCM) + 1000,
		Acceleration: telemetry.Acceleration{Z: -1000},
	}
	if v.flying {
		rec.Attitude.Pitch = rand.Intn(5) - 2
		rec.Attitude.Roll = rand.Intn(5) - 2
		rec.TimeOfFlightCM = v.heightCM + 10
	} else {
		rec.TimeOfFlightCM = 10
	}
	return rec
}

// line renders a telemetry datagram with the extra mission-pad keys real
// firmware emits ahead of the flight data.
func (v *vehicle) line() string {
	return "mid:-1;x:0;y:0;z:0;mpry:0,0,0;" + telemetry.Format(v.sample()) + "\r\n"
}

// handle applies a command and returns the reply text.
func (v *vehicle) handle(raw string) string {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return "error"
	}
	name := fields[0]
	arg, hasArg := 0, false
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return "error"
		}
		arg, hasArg = n, true
	}

	if name == protocol.CmdSDK {
		v.sdk = true
		return "ok"
	}
	if name == protocol.CmdEmergency {
		v.flying = false
		v.heightCM = 0
		return "ok"
	}
	if !v.sdk {
		return "error"
	}

	switch {
	case name == protocol.CmdTakeoff:
		if v.flying || v.battery < minTakeoffBat {
			return "error"
		}
		v.flying = true
		v.heightCM = takeoffHeightCM
	case name == protocol.CmdLand:
		if !v.flying {
			return "error"
		}
		v.flying = false
		v.heightCM = 0
	case name == protocol.CmdBattery:
		return strconv.Itoa(int(v.battery + 0.5))
	case name == protocol.CmdStop, name == protocol.CmdStreamOn, name == protocol.CmdStreamOff:
	case name == protocol.CmdSpeed:
		if !hasArg || arg < 10 || arg > 100 {
			return "error"
		}
		v.speed = arg
	case name == protocol.CmdCW || name == protocol.CmdCCW:
		if !v.flying || !hasArg || arg < 1 || arg > 360 {
			return "error"
		}
		if name == protocol.CmdCCW {
			arg = -arg
		}
		v.yaw = ((v.yaw+arg+180)%360+360)%360 - 180
	case protocol.Directions[name]:
		if !v.flying || !hasArg || arg < 20 || arg > 500 {
			return "error"
		}
		switch name {
		case "up":
			v.heightCM = min(v.heightCM+arg, maxHeightCM)
		case "down":
			v.heightCM = max(v.heightCM-arg, 20)
		}
	default:
		return "error"
	}
	return "ok"
}
