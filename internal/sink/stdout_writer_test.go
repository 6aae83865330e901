package sink

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

func TestJSONStdoutWriterEnvelopes(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &JSONStdoutWriter{out: buf}
	if err := w.Write(telemetry.Record{BatteryPct: 50}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteEvent(safety.Event{Level: safety.Critical}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := w.WriteTransition(flight.Transition{From: flight.Idle, To: flight.Initializing}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	for i, want := range []string{"telemetry", "safety", "transition"} {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(lines[i]), &env); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if env.Type != want {
			t.Fatalf("line %d type = %q, want %q", i, env.Type, want)
		}
	}
	if !strings.Contains(lines[1], `"level":"critical"`) {
		t.Fatalf("level not encoded by name: %s", lines[1])
	}
}

func TestColorStdoutWriter(t *testing.T) {
	cfg := config.Default()
	buf := &bytes.Buffer{}
	w := &ColorStdoutWriter{cfg: &cfg, out: buf, alerts: telemetry.DefaultAlertThresholds()}
	rec := telemetry.Record{BatteryPct: 8, AltitudeCM: 1250, TemperatureC: 50, ReceivedAt: time.Unix(0, 0)}
	if err := w.Write(rec); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "Controller Configuration:") {
		t.Fatalf("overview not printed: %q", output)
	}
	if !strings.Contains(output, "1,250cm") {
		t.Fatalf("altitude not humanized: %q", output)
	}
	if !strings.Contains(output, "CRITICAL BATTERY") || !strings.Contains(output, "HIGH TEMPERATURE") {
		t.Fatalf("alerts missing: %q", output)
	}

	buf.Reset()
	if err := w.WriteEvent(safety.Event{Level: safety.Emergency, Message: "Connection lost during flight", Action: safety.ActionLand}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if strings.Contains(buf.String(), "Controller Configuration:") {
		t.Fatalf("overview printed more than once")
	}
	if !strings.Contains(buf.String(), colorRed+"SAFETY emergency") || !strings.Contains(buf.String(), "action=land") {
		t.Fatalf("unexpected event line: %q", buf.String())
	}

	buf.Reset()
	_ = w.WriteTransition(flight.Transition{From: flight.Manual, To: flight.EmergencyStopped})
	if !strings.Contains(buf.String(), "manual -> ") || !strings.Contains(buf.String(), "emergency_stopped") {
		t.Fatalf("unexpected transition line: %q", buf.String())
	}
}
