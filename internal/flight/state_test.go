package flight

import (
	"errors"
	"sync"
	"testing"
	"time"

	"droneops-ctl/internal/protocol"
	"droneops-ctl/internal/telemetry"
)

func TestTransitionTable(t *testing.T) {
	all := []Mode{Idle, Initializing, Manual, TakingOff, Landing, EmergencyStopped}
	legal := map[[2]Mode]bool{
		{Idle, Initializing}:                 true,
		{Idle, EmergencyStopped}:             true,
		{Initializing, Manual}:               true,
		{Initializing, Idle}:                 true,
		{Initializing, EmergencyStopped}:     true,
		{Manual, TakingOff}:                  true,
		{Manual, Landing}:                    true,
		{Manual, EmergencyStopped}:           true,
		{TakingOff, Manual}:                  true,
		{TakingOff, Idle}:                    true,
		{TakingOff, EmergencyStopped}:        true,
		{Landing, Idle}:                      true,
		{Landing, Manual}:                    true,
		{Landing, EmergencyStopped}:          true,
		{EmergencyStopped, EmergencyStopped}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Mode{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := CheckTransition(from, to)
			if want && err != nil {
				t.Fatalf("CheckTransition(%s, %s): %v", from, to, err)
			}
			if !want && !errors.Is(err, protocol.ErrInvalidState) {
				t.Fatalf("CheckTransition(%s, %s) = %v, want ErrInvalidState", from, to, err)
			}
		}
	}
}

func TestFlyingMatchesMode(t *testing.T) {
	for _, m := range []Mode{Idle, Initializing, EmergencyStopped} {
		if m.Flying() {
			t.Fatalf("%s should not be flying", m)
		}
	}
	for _, m := range []Mode{Manual, TakingOff, Landing} {
		if !m.Flying() {
			t.Fatalf("%s should be flying", m)
		}
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(4)
	defer s.Close()
	s.ApplyTelemetry(telemetry.Record{BatteryPct: 80, AltitudeCM: 10})
	snap := s.Snapshot()
	snap.Telemetry.BatteryPct = 1
	if b, _ := s.Snapshot().Battery(); b != 80 {
		t.Fatalf("snapshot mutation leaked into store: battery=%d", b)
	}
}

func TestStoreFlightTime(t *testing.T) {
	s := NewStore(4)
	defer s.Close()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.BeginFlight()
	now = now.Add(30 * time.Second)
	if got := s.Snapshot().FlightTime(now); got != 30*time.Second {
		t.Fatalf("FlightTime = %v, want 30s", got)
	}
	s.EndFlight()
	st := s.Snapshot()
	if st.Airborne() || st.CumulativeFlight != 30*time.Second {
		t.Fatalf("after EndFlight: %+v", st)
	}
	s.BeginFlight()
	now = now.Add(10 * time.Second)
	if got := s.Snapshot().FlightTime(now); got != 40*time.Second {
		t.Fatalf("FlightTime = %v, want 40s", got)
	}
}

func TestStorePublishesTransitions(t *testing.T) {
	s := NewStore(8)
	defer s.Close()

	var mu sync.Mutex
	var got []Transition
	done := make(chan struct{})
	s.SubscribeTransitions(func(tr Transition) {
		mu.Lock()
		got = append(got, tr)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	for _, m := range []Mode{Initializing, Manual, EmergencyStopped} {
		if err := s.Transition(m); err != nil {
			t.Fatalf("Transition(%s): %v", m, err)
		}
	}
	if err := s.Transition(Manual); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("leaving EmergencyStopped: err = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transitions")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0].From != Idle || got[2].To != EmergencyStopped {
		t.Fatalf("transitions = %+v", got)
	}
	if !s.Snapshot().Initialized {
		t.Fatalf("expected Initialized after Initializing -> Manual")
	}
}

func TestStoreResetClearsEmergency(t *testing.T) {
	s := NewStore(4)
	defer s.Close()
	_ = s.Transition(EmergencyStopped)
	s.Reset()
	if m := s.Mode(); m != Idle {
		t.Fatalf("mode after Reset = %s", m)
	}
}

func TestTransitionIfGuard(t *testing.T) {
	s := NewStore(4)
	defer s.Close()
	blocked := errors.New("blocked")
	if err := s.TransitionIf(Initializing, func(State) error { return blocked }); !errors.Is(err, blocked) {
		t.Fatalf("guard error not returned: %v", err)
	}
	if s.Mode() != Idle {
		t.Fatalf("guard failure changed mode")
	}
}

func TestModeTextRoundTrip(t *testing.T) {
	for m := Idle; m <= EmergencyStopped; m++ {
		b, _ := m.MarshalText()
		var got Mode
		if err := got.UnmarshalText(b); err != nil || got != m {
			t.Fatalf("round trip %v: got %v, %v", m, got, err)
		}
	}
	var m Mode
	if err := m.UnmarshalText([]byte("hovering")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
