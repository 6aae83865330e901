package flight

import (
	"sync"
	"time"

	"droneops-ctl/internal/notify"
	"droneops-ctl/internal/telemetry"
)

// State is a point-in-time copy of the flight state. Holding one never
// blocks writers and never observes a torn update.
type State struct {
	Telemetry        *telemetry.Record `json:"telemetry,omitempty"`
	Mode             Mode              `json:"mode"`
	Flying           bool              `json:"flying"`
	FlightStart      time.Time         `json:"flight_start,omitempty"`
	CumulativeFlight time.Duration     `json:"cumulative_flight"`
	Initialized      bool              `json:"initialized"`
	LinkUp           bool              `json:"link_up"`
	LastTelemetryAt  time.Time         `json:"last_telemetry_at,omitempty"`
}

// Airborne reports whether a takeoff was acknowledged and no landing since.
func (s State) Airborne() bool { return !s.FlightStart.IsZero() }

// FlightTime returns cumulative flight time including the current flight.
func (s State) FlightTime(now time.Time) time.Duration {
	d := s.CumulativeFlight
	if s.Airborne() {
		d += now.Sub(s.FlightStart)
	}
	return d
}

// Battery returns the last reported battery level and whether one is known.
func (s State) Battery() (int, bool) {
	if s.Telemetry == nil {
		return 0, false
	}
	return s.Telemetry.BatteryPct, true
}

// AltitudeCM returns the last reported altitude, or 0.
func (s State) AltitudeCM() int {
	if s.Telemetry == nil {
		return 0
	}
	return s.Telemetry.AltitudeCM
}

// Transition records a mode change.
type Transition struct {
	From Mode      `json:"from"`
	To   Mode      `json:"to"`
	At   time.Time `json:"at"`
}

// Store owns the mutable flight state. Callers read copies via Snapshot.
type Store struct {
	mu          sync.RWMutex
	state       State
	transitions *notify.Dispatcher[Transition]
	now         func() time.Time
}

// NewStore returns a store in Idle. queueSize bounds each transition observer's backlog.
func NewStore(queueSize int) *Store {
	return &Store{
		transitions: notify.NewDispatcher[Transition](queueSize),
		now:         time.Now,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.Telemetry != nil {
		rec := *st.Telemetry
		st.Telemetry = &rec
	}
	st.Flying = st.Mode.Flying()
	return st
}

// Mode returns the current mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Mode
}

// ApplyTelemetry stores rec as the latest sample.
func (s *Store) ApplyTelemetry(rec telemetry.Record) {
	s.mu.Lock()
	r := rec
	s.state.Telemetry = &r
	s.state.LastTelemetryAt = rec.ReceivedAt
	s.mu.Unlock()
}

// SetLinkUp mirrors the link's heartbeat state.
func (s *Store) SetLinkUp(up bool) {
	s.mu.Lock()
	s.state.LinkUp = up
	s.mu.Unlock()
}

// Transition moves to mode to, failing with ErrInvalidState for an illegal edge.
func (s *Store) Transition(to Mode) error {
	return s.TransitionIf(to, nil)
}

// TransitionIf is Transition with an extra precondition evaluated under the
// same lock, so check and move happen atomically.
func (s *Store) TransitionIf(to Mode, guard func(State) error) error {
	s.mu.Lock()
	from := s.state.Mode
	if guard != nil {
		if err := guard(s.state); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if err := CheckTransition(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.Mode = to
	if to == Manual && from == Initializing {
		s.state.Initialized = true
	}
	if to == EmergencyStopped {
		s.closeFlightLocked()
	}
	if from != to {
		s.transitions.Publish(Transition{From: from, To: to, At: s.now()})
	}
	s.mu.Unlock()
	return nil
}

// BeginFlight marks the vehicle airborne from now.
func (s *Store) BeginFlight() {
	s.mu.Lock()
	if s.state.FlightStart.IsZero() {
		s.state.FlightStart = s.now()
	}
	s.mu.Unlock()
}

// EndFlight folds the current flight into the cumulative total.
func (s *Store) EndFlight() {
	s.mu.Lock()
	s.closeFlightLocked()
	s.mu.Unlock()
}

func (s *Store) closeFlightLocked() {
	if s.state.FlightStart.IsZero() {
		return
	}
	s.state.CumulativeFlight += s.now().Sub(s.state.FlightStart)
	s.state.FlightStart = time.Time{}
}

// Reset starts a fresh session in Idle. Cumulative flight time is kept so the
// flight-time limit spans reconnects.
func (s *Store) Reset() {
	s.mu.Lock()
	from := s.state.Mode
	s.closeFlightLocked()
	cumulative := s.state.CumulativeFlight
	s.state = State{CumulativeFlight: cumulative}
	if from != Idle {
		s.transitions.Publish(Transition{From: from, To: Idle, At: s.now()})
	}
	s.mu.Unlock()
}

// SubscribeTransitions registers fn for every mode change.
func (s *Store) SubscribeTransitions(fn func(Transition)) (cancel func()) {
	return s.transitions.Subscribe(fn)
}

// Close stops transition delivery.
func (s *Store) Close() { s.transitions.Close() }
