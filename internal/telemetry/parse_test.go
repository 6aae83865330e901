package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sample = "pitch:3;roll:-2;yaw:45;vgx:10;vgy:-5;vgz:0;templ:60;temph:64;tof:85;h:120;bat:87;baro:42.17;time:33;agx:-3.00;agy:1.50;agz:-999.00;\r\n"

func TestParseFirmwareLine(t *testing.T) {
	ts := time.Unix(100, 0)
	r, err := ParseAt(sample, ts)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if r.BatteryPct != 87 || r.AltitudeCM != 120 {
		t.Fatalf("required fields: %+v", r)
	}
	if r.Attitude != (Attitude{Pitch: 3, Roll: -2, Yaw: 45}) {
		t.Fatalf("attitude = %+v", r.Attitude)
	}
	if r.Velocity != (Velocity{X: 10, Y: -5, Z: 0}) {
		t.Fatalf("velocity = %+v", r.Velocity)
	}
	if r.TemperatureC != 62 {
		t.Fatalf("temperature = %d, want mean of templ/temph", r.TemperatureC)
	}
	if r.TimeOfFlightCM != 85 || r.MotorTimeSec != 33 || r.BarometerCM != 42.17 {
		t.Fatalf("aux fields: %+v", r)
	}
	if r.Acceleration.Z != -999 {
		t.Fatalf("agz = %v", r.Acceleration.Z)
	}
	if !r.ReceivedAt.Equal(ts) {
		t.Fatalf("ReceivedAt = %v", r.ReceivedAt)
	}
}

func TestParseWhitespaceAndUnknownKeys(t *testing.T) {
	r, err := Parse("bat:50 h:0  wifi:90 mid:-1 temp:40")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.BatteryPct != 50 || r.AltitudeCM != 0 || r.TemperatureC != 40 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestParseRejectsAtomically(t *testing.T) {
	cases := map[string]string{
		"missing battery":     "h:10 pitch:0",
		"missing altitude":    "bat:50",
		"non numeric battery": "bat:full h:10",
		"battery over range":  "bat:101 h:10",
		"negative altitude":   "bat:50 h:-1",
		"pitch out of range":  "bat:50 h:10 pitch:181",
		"bad float":           "bat:50 h:10 baro:abc",
		"nan barometer":       "bat:50;h:10;baro:NaN;",
		"infinite accel":      "bat:50;h:10;agx:+Inf;",
		"negative infinity":   "bat:50 h:10 agz:-inf",
		"empty":               "",
		"garbage":             "\x00\x01\x02",
	}
	for name, raw := range cases {
		r, err := Parse(raw)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("%s: err = %v, want ErrParse", name, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected *ParseError", name)
		}
		if r != (Record{}) {
			t.Fatalf("%s: partially populated record %+v", name, r)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	records := []Record{
		{BatteryPct: 100, AltitudeCM: 0},
		{
			BatteryPct:     4,
			AltitudeCM:     510,
			Velocity:       Velocity{X: -30, Y: 12, Z: 7},
			Attitude:       Attitude{Pitch: -180, Roll: 180, Yaw: -91},
			TemperatureC:   81,
			TimeOfFlightCM: 6553,
			BarometerCM:    -12.345678,
			Acceleration:   Acceleration{X: 0.125, Y: -1000, Z: 3.3},
			MotorTimeSec:   1200,
		},
	}
	for _, want := range records {
		ts := time.Unix(42, 0)
		want.ReceivedAt = ts
		got, err := ParseAt(Format(want), ts)
		if err != nil {
			t.Fatalf("ParseAt(Format(%+v)): %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestExtractAlerts(t *testing.T) {
	th := DefaultAlertThresholds()
	r := Record{BatteryPct: 8, AltitudeCM: 600, TemperatureC: 85, Attitude: Attitude{Pitch: 50, Roll: -46}, TimeOfFlightCM: 10}
	alerts := ExtractAlerts(r, th)
	prefixes := []string{"CRITICAL BATTERY", "HIGH TEMPERATURE", "EXTREME PITCH", "EXTREME ROLL", "LOW ALTITUDE", "ALTITUDE LIMIT"}
	if len(alerts) != len(prefixes) {
		t.Fatalf("alerts = %v", alerts)
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(alerts[i], p) {
			t.Fatalf("alert %d = %q, want prefix %q", i, alerts[i], p)
		}
	}

	if got := ExtractAlerts(Record{BatteryPct: 19, AltitudeCM: 100}, th); len(got) != 1 || !strings.HasPrefix(got[0], "LOW BATTERY") {
		t.Fatalf("low battery alerts = %v", got)
	}
	if got := ExtractAlerts(Record{BatteryPct: 90, AltitudeCM: 100}, th); len(got) != 0 {
		t.Fatalf("expected no alerts, got %v", got)
	}
}

func TestSummary(t *testing.T) {
	r := Record{BatteryPct: 77, AltitudeCM: 30, Velocity: Velocity{X: 3, Y: 4}}
	s := r.Summary()
	if !strings.Contains(s, "Battery: 77%") || !strings.Contains(s, "Speed: 5.00 cm/s") {
		t.Fatalf("summary = %q", s)
	}
}
