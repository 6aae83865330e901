package sink

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/storage"
	"droneops-ctl/internal/telemetry"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSources struct {
	tel       func(telemetry.Record)
	ev        func(safety.Event)
	tr        func(flight.Transition)
	cancelled int
}

func (f *fakeSources) SubscribeTelemetry(fn func(telemetry.Record)) func() {
	f.tel = fn
	return func() { f.cancelled++ }
}

func (f *fakeSources) Subscribe(fn func(safety.Event)) func() {
	f.ev = fn
	return func() { f.cancelled++ }
}

func (f *fakeSources) SubscribeTransitions(fn func(flight.Transition)) func() {
	f.tr = fn
	return func() { f.cancelled++ }
}

func TestRecorderForwards(t *testing.T) {
	cw := &collectWriter{}
	src := &fakeSources{}
	r := NewRecorder(NewSession(), NewMultiWriter(cw), discardLogger())
	if r.Session() == "" {
		t.Fatal("empty session id")
	}
	r.Attach(src, src, src)

	src.tel(telemetry.Record{BatteryPct: 70})
	src.ev(safety.Event{ID: "e1"})
	src.tr(flight.Transition{To: flight.Initializing})

	if len(cw.recs) != 1 || len(cw.events) != 1 || len(cw.trans) != 1 {
		t.Fatalf("forwarded %d/%d/%d", len(cw.recs), len(cw.events), len(cw.trans))
	}
	r.Stop()
	if src.cancelled != 3 {
		t.Fatalf("expected 3 cancellations, got %d", src.cancelled)
	}
}

func TestRecorderSkipsNilSources(t *testing.T) {
	src := &fakeSources{}
	r := NewRecorder("s", NewMultiWriter(&collectWriter{}), discardLogger())
	r.Attach(src, nil, nil)
	if src.ev != nil || src.tr != nil {
		t.Fatal("unexpected subscriptions")
	}
	r.Stop()
	if src.cancelled != 1 {
		t.Fatalf("expected 1 cancellation, got %d", src.cancelled)
	}
}

func TestRecorderCountsFailures(t *testing.T) {
	cw := &collectWriter{err: errors.New("disk full")}
	src := &fakeSources{}
	r := NewRecorder("s", NewMultiWriter(cw), discardLogger())
	r.Attach(src, src, nil)
	src.tel(telemetry.Record{})
	src.ev(safety.Event{})
	if got := r.Failures(); got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}
}

func TestRecorderToSQLite(t *testing.T) {
	store := storage.New(filepath.Join(t.TempDir(), "flights.db"))
	defer store.Close()

	session := NewSession()
	sw, err := NewSQLiteWriter(store, session, "192.168.10.1", nil)
	if err != nil {
		t.Fatalf("NewSQLiteWriter: %v", err)
	}
	src := &fakeSources{}
	r := NewRecorder(session, NewMultiWriter(sw), discardLogger())
	r.Attach(src, src, src)

	now := time.Now().UTC()
	src.tel(telemetry.Record{BatteryPct: 55, ReceivedAt: now})
	src.ev(safety.Event{ID: "e1", Level: safety.Warning, Condition: safety.CondBatteryWarning, Message: "low", At: now})
	src.tr(flight.Transition{From: flight.Idle, To: flight.Initializing, At: now})
	if r.Failures() != 0 {
		t.Fatalf("unexpected failures: %d", r.Failures())
	}

	got, err := store.SessionByUUID(session)
	if err != nil || got.ID != sw.SessionID() {
		t.Fatalf("session lookup = %+v, %v", got, err)
	}
	recs, err := store.Telemetry(sw.SessionID())
	if err != nil || len(recs) != 1 || recs[0].BatteryPct != 55 {
		t.Fatalf("telemetry = %+v, %v", recs, err)
	}
	evs, err := store.Events(sw.SessionID())
	if err != nil || len(evs) != 1 {
		t.Fatalf("events = %+v, %v", evs, err)
	}
}
