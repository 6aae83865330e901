// Package telemetry decodes the vehicle's key:value status datagrams.
package telemetry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Velocity in cm/s.
type Velocity struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Attitude in degrees.
type Attitude struct {
	Pitch int `json:"pitch"`
	Roll  int `json:"roll"`
	Yaw   int `json:"yaw"`
}

// Acceleration in 0.001g as reported by the IMU.
type Acceleration struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Record is one decoded telemetry sample. Records are values and are never
// mutated after Parse returns them.
type Record struct {
	BatteryPct     int          `json:"battery_pct"`
	AltitudeCM     int          `json:"altitude_cm"`
	Velocity       Velocity     `json:"velocity"`
	Attitude       Attitude     `json:"attitude"`
	TemperatureC   int          `json:"temperature_c"`
	TimeOfFlightCM int          `json:"tof_cm"`
	BarometerCM    float64      `json:"baro_cm"`
	Acceleration   Acceleration `json:"acceleration"`
	MotorTimeSec   int          `json:"motor_time_s"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// GroundSpeed returns the horizontal speed in cm/s.
func (r Record) GroundSpeed() float64 {
	return math.Hypot(float64(r.Velocity.X), float64(r.Velocity.Y))
}

// Summary renders the record as a single human readable line.
func (r Record) Summary() string {
	parts := []string{
		fmt.Sprintf("Battery: %d%%", r.BatteryPct),
		fmt.Sprintf("Altitude: %d cm", r.AltitudeCM),
		fmt.Sprintf("Speed: %.2f cm/s", r.GroundSpeed()),
		fmt.Sprintf("Attitude: P:%d° R:%d° Y:%d°", r.Attitude.Pitch, r.Attitude.Roll, r.Attitude.Yaw),
		fmt.Sprintf("Temperature: %d°C", r.TemperatureC),
	}
	if r.TimeOfFlightCM > 0 {
		parts = append(parts, fmt.Sprintf("Distance below: %d cm", r.TimeOfFlightCM))
	}
	return strings.Join(parts, " | ")
}
