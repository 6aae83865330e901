package telemetry

import "fmt"

// AlertThresholds configures ExtractAlerts.
type AlertThresholds struct {
	BatteryWarning  int
	BatteryCritical int
	MaxTemperatureC int
	MaxTiltDeg      int
	MinClearanceCM  int
	MaxAltitudeCM   int
}

// DefaultAlertThresholds mirrors the vehicle's published operating limits.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		BatteryWarning:  20,
		BatteryCritical: 10,
		MaxTemperatureC: 80,
		MaxTiltDeg:      45,
		MinClearanceCM:  20,
		MaxAltitudeCM:   500,
	}
}

// ExtractAlerts returns advisory messages for display, most severe first.
// They carry no authority; the safety supervisor acts on its own thresholds.
func ExtractAlerts(r Record, t AlertThresholds) []string {
	var alerts []string
	switch {
	case r.BatteryPct < t.BatteryCritical:
		alerts = append(alerts, fmt.Sprintf("CRITICAL BATTERY: %d%% - LAND IMMEDIATELY", r.BatteryPct))
	case r.BatteryPct < t.BatteryWarning:
		alerts = append(alerts, fmt.Sprintf("LOW BATTERY: %d%%", r.BatteryPct))
	}
	if r.TemperatureC > t.MaxTemperatureC {
		alerts = append(alerts, fmt.Sprintf("HIGH TEMPERATURE: %d°C", r.TemperatureC))
	}
	if abs(r.Attitude.Pitch) > t.MaxTiltDeg {
		alerts = append(alerts, fmt.Sprintf("EXTREME PITCH: %d°", r.Attitude.Pitch))
	}
	if abs(r.Attitude.Roll) > t.MaxTiltDeg {
		alerts = append(alerts, fmt.Sprintf("EXTREME ROLL: %d°", r.Attitude.Roll))
	}
	if r.TimeOfFlightCM > 0 && r.TimeOfFlightCM < t.MinClearanceCM {
		alerts = append(alerts, fmt.Sprintf("LOW ALTITUDE: %d cm", r.TimeOfFlightCM))
	}
	if t.MaxAltitudeCM > 0 && r.AltitudeCM > t.MaxAltitudeCM {
		alerts = append(alerts, fmt.Sprintf("ALTITUDE LIMIT: %d cm > %d cm", r.AltitudeCM, t.MaxAltitudeCM))
	}
	return alerts
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
