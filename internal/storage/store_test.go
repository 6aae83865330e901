package storage

import (
	"path/filepath"
	"testing"
	"time"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "flights.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.CreateSession("abc", "192.168.10.1", start, map[string]int{"tick_ms": 1000})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.CreateSession("def", "192.168.10.1", start.Add(time.Hour), nil); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sessions, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != id || sessions[0].UUID != "abc" || !sessions[0].StartTime.Equal(start) {
		t.Fatalf("unexpected session: %+v", sessions[0])
	}
	if !sessions[0].Config.Valid || sessions[0].Config.String != `{"tick_ms":1000}` {
		t.Fatalf("config = %+v", sessions[0].Config)
	}
	if sessions[1].Config.Valid {
		t.Fatalf("nil config stored as %q", sessions[1].Config.String)
	}

	got, err := s.SessionByUUID("def")
	if err != nil || got.ID != sessions[1].ID {
		t.Fatalf("SessionByUUID = %+v, %v", got, err)
	}
	if _, err := s.SessionByUUID("missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("abc", "drone", time.Now(), nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := []telemetry.Record{
		{BatteryPct: 87, AltitudeCM: 120, Attitude: telemetry.Attitude{Pitch: 2, Roll: -3, Yaw: 90}, BarometerCM: 1.5, ReceivedAt: base},
		{BatteryPct: 86, AltitudeCM: 130, Acceleration: telemetry.Acceleration{X: -1, Y: 2, Z: -998}, ReceivedAt: base.Add(100 * time.Millisecond)},
	}
	if err := s.InsertTelemetry(id, in...); err != nil {
		t.Fatalf("InsertTelemetry: %v", err)
	}
	if err := s.InsertTelemetry(id); err != nil {
		t.Fatalf("empty InsertTelemetry: %v", err)
	}

	out, err := s.Telemetry(id)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].Attitude.Yaw != 90 || out[0].BarometerCM != 1.5 || !out[0].ReceivedAt.Equal(base) {
		t.Fatalf("first record = %+v", out[0])
	}
	if out[1].Acceleration.Z != -998 || out[1].BatteryPct != 86 {
		t.Fatalf("second record = %+v", out[1])
	}
}

func TestEventsAndTransitions(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("abc", "drone", time.Now(), "raw")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := safety.Event{
		ID:        "e1",
		Level:     safety.Critical,
		Message:   "Critical battery level: 9% - landing",
		Condition: safety.CondBatteryAutoLand,
		Action:    safety.ActionLand,
		At:        at,
	}
	if err := s.InsertEvent(id, ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if err := s.InsertTransition(id, flight.Transition{From: flight.Manual, To: flight.Landing, At: at}); err != nil {
		t.Fatalf("InsertTransition: %v", err)
	}

	events, err := s.Events(id)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID != ev.ID || got.Level != ev.Level || got.Condition != ev.Condition || got.Action != ev.Action || !got.At.Equal(at) {
		t.Fatalf("event = %+v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "flights.db"))
	if _, err := s.Sessions(); err != nil {
		t.Fatalf("Sessions on empty db: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
