// Package safety enforces battery, link, flight-time and altitude policy
// independently of the operator.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/link"
	"droneops-ctl/internal/notify"
	"droneops-ctl/internal/telemetry"
)

// Commander carries out autonomous actions.
type Commander interface {
	Land(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
}

// Feed supplies the signals that trigger an evaluation between ticks.
type Feed interface {
	SubscribeTelemetry(fn func(telemetry.Record)) (cancel func())
	SubscribeLink(fn func(link.Event)) (cancel func())
}

// Status reports the supervisor's current posture.
type Status struct {
	Enabled bool        `json:"enabled"`
	Latched []Condition `json:"latched"`
	Last    *Event      `json:"last,omitempty"`
}

type decision struct {
	cond    Condition
	level   Level
	message string
	action  Action
}

// Supervisor evaluates policy on a fixed tick and whenever telemetry, link
// edges or mode changes arrive. Autonomous commands are dispatched without
// waiting for their outcome.
type Supervisor struct {
	cfg         config.SafetySettings
	store       *flight.Store
	cmd         Commander
	log         *slog.Logger
	events      *notify.Dispatcher[Event]
	historySize int
	now         func() time.Time
	wake        chan struct{}
	inflight    sync.WaitGroup

	mu      sync.Mutex
	enabled bool
	latched map[Condition]bool
	history []Event
}

// New returns a supervisor reading store and acting through cmd.
func New(cfg config.Settings, store *flight.Store, cmd Commander, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	history := cfg.EventHistory
	if history <= 0 {
		history = 100
	}
	return &Supervisor{
		cfg:         cfg.Safety,
		store:       store,
		cmd:         cmd,
		log:         log.With("component", "safety"),
		events:      notify.NewDispatcher[Event](cfg.ObserverQueue),
		historySize: history,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
		enabled:     cfg.Safety.Enabled,
		latched:     make(map[Condition]bool),
	}
}

// Watch subscribes to feed and to mode transitions. The returned function
// removes every subscription.
func (s *Supervisor) Watch(feed Feed) (cancel func()) {
	cancels := []func(){
		feed.SubscribeTelemetry(func(telemetry.Record) { s.poke() }),
		feed.SubscribeLink(s.onLink),
		s.store.SubscribeTransitions(s.onTransition),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Run evaluates on every tick and wake-up until ctx is done, then waits for
// dispatched commands to finish.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.log.Info("safety monitoring started", "tick", s.cfg.Tick)
	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.log.Info("safety monitoring stopped")
			return
		case <-ticker.C:
			s.Evaluate()
		case <-s.wake:
			s.Evaluate()
		}
	}
}

func (s *Supervisor) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) onLink(e link.Event) {
	if e.Up {
		s.mu.Lock()
		delete(s.latched, CondLinkLoss)
		s.mu.Unlock()
	}
	s.poke()
}

func (s *Supervisor) onTransition(tr flight.Transition) {
	if tr.To == flight.TakingOff {
		s.mu.Lock()
		if len(s.latched) > 0 {
			s.log.Debug("safety latches reset", "count", len(s.latched))
		}
		s.latched = make(map[Condition]bool)
		s.mu.Unlock()
	}
	s.poke()
}

// Evaluate runs one policy pass. The highest-priority matching rule whose
// latch is open fires; at most one event and one command result per pass.
func (s *Supervisor) Evaluate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	st := s.store.Snapshot()
	now := s.now()
	for _, rule := range s.rules() {
		d, ok := rule(st, now)
		if !ok || s.latched[d.cond] {
			continue
		}
		s.latched[d.cond] = true
		s.emitLocked(d.level, d.cond, d.action, d.message)
		if d.action != ActionNone {
			s.dispatch(d.action, d.cond)
		}
		return
	}
}

func (s *Supervisor) rules() []func(flight.State, time.Time) (decision, bool) {
	return []func(flight.State, time.Time) (decision, bool){
		s.linkLoss,
		s.batteryEmergency,
		s.batteryAutoLand,
		s.batteryWarning,
		s.flightTime,
		s.flightTimeWarning,
		s.altitudeLimit,
		s.altitudeWarning,
	}
}

func (s *Supervisor) linkLoss(st flight.State, _ time.Time) (decision, bool) {
	if !st.Flying || st.LinkUp || st.Telemetry == nil {
		return decision{}, false
	}
	d := decision{cond: CondLinkLoss, level: Emergency, message: "Connection lost during flight", action: ActionLand}
	if b, ok := st.Battery(); ok && b <= s.cfg.BatteryAutoLand {
		d.action = ActionEmergency
		d.message = fmt.Sprintf("Connection lost during flight with battery at %d%%", b)
	} else if s.cfg.LinkLossAction == config.LinkLossHover {
		d.action = ActionNone
		d.message = "Connection lost during flight - holding hover"
	}
	return d, true
}

func (s *Supervisor) batteryEmergency(st flight.State, _ time.Time) (decision, bool) {
	b, ok := st.Battery()
	if !ok || b > s.cfg.BatteryEmergency || st.Mode == flight.EmergencyStopped {
		return decision{}, false
	}
	return decision{
		cond:    CondBatteryEmergency,
		level:   Emergency,
		message: fmt.Sprintf("Critically low battery: %d%% - emergency stop", b),
		action:  ActionEmergency,
	}, true
}

func (s *Supervisor) batteryAutoLand(st flight.State, _ time.Time) (decision, bool) {
	b, ok := st.Battery()
	if !ok || b > s.cfg.BatteryAutoLand || !st.Flying || st.Mode == flight.Landing {
		return decision{}, false
	}
	return decision{
		cond:    CondBatteryAutoLand,
		level:   Critical,
		message: fmt.Sprintf("Critical battery level: %d%% - landing", b),
		action:  ActionLand,
	}, true
}

func (s *Supervisor) batteryWarning(st flight.State, _ time.Time) (decision, bool) {
	b, ok := st.Battery()
	if !ok || b > s.cfg.BatteryWarning {
		return decision{}, false
	}
	return decision{cond: CondBatteryWarning, level: Warning, message: fmt.Sprintf("Low battery warning: %d%%", b)}, true
}

func (s *Supervisor) flightTime(st flight.State, now time.Time) (decision, bool) {
	if !st.Airborne() || st.Mode == flight.Landing {
		return decision{}, false
	}
	ft := st.FlightTime(now)
	if ft < s.cfg.MaxFlightTime {
		return decision{}, false
	}
	return decision{
		cond:    CondFlightTime,
		level:   Critical,
		message: fmt.Sprintf("Maximum flight time exceeded: %.0fs", ft.Seconds()),
		action:  ActionLand,
	}, true
}

func (s *Supervisor) flightTimeWarning(st flight.State, now time.Time) (decision, bool) {
	if !st.Airborne() || s.cfg.FlightTimeWarning <= 0 {
		return decision{}, false
	}
	ft := st.FlightTime(now)
	limit := time.Duration(float64(s.cfg.MaxFlightTime) * s.cfg.FlightTimeWarning)
	if ft < limit {
		return decision{}, false
	}
	return decision{
		cond:    CondFlightTimeWarning,
		level:   Warning,
		message: fmt.Sprintf("Flight time warning: %.0fs of %.0fs", ft.Seconds(), s.cfg.MaxFlightTime.Seconds()),
	}, true
}

func (s *Supervisor) altitudeLimit(st flight.State, _ time.Time) (decision, bool) {
	alt := st.AltitudeCM()
	if st.Telemetry == nil || !st.Flying || st.Mode == flight.Landing || alt < s.cfg.MaxAltitudeCM+s.cfg.AltitudeMarginCM {
		return decision{}, false
	}
	return decision{
		cond:    CondAltitudeLimit,
		level:   Critical,
		message: fmt.Sprintf("Altitude %dcm beyond limit %dcm + %dcm margin - landing", alt, s.cfg.MaxAltitudeCM, s.cfg.AltitudeMarginCM),
		action:  ActionLand,
	}, true
}

func (s *Supervisor) altitudeWarning(st flight.State, _ time.Time) (decision, bool) {
	alt := st.AltitudeCM()
	if st.Telemetry == nil || alt < s.cfg.MaxAltitudeCM {
		return decision{}, false
	}
	return decision{
		cond:    CondAltitudeWarning,
		level:   Warning,
		message: fmt.Sprintf("Altitude limit exceeded: %dcm >= %dcm", alt, s.cfg.MaxAltitudeCM),
	}, true
}

// dispatch runs an autonomous command without blocking the evaluation.
func (s *Supervisor) dispatch(action Action, cause Condition) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		var err error
		switch action {
		case ActionLand:
			err = s.cmd.Land(context.Background())
		case ActionEmergency:
			err = s.cmd.EmergencyStop(context.Background())
		}
		if err != nil {
			s.log.Error("autonomous command failed", "action", action, "cause", cause, "err", err)
			return
		}
		if action == ActionLand {
			s.emit(Info, CondActionResult, ActionNone, fmt.Sprintf("Autonomous landing completed (%s)", cause))
		}
	}()
}

// Wait blocks until every dispatched command has returned.
func (s *Supervisor) Wait() { s.inflight.Wait() }

func (s *Supervisor) emit(level Level, cond Condition, action Action, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(level, cond, action, msg)
}

func (s *Supervisor) emitLocked(level Level, cond Condition, action Action, msg string) {
	ev := Event{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		Condition: cond,
		Action:    action,
		At:        s.now(),
	}
	s.history = append(s.history, ev)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = append([]Event(nil), s.history[over:]...)
	}
	s.events.Publish(ev)

	attrs := []any{"condition", cond, "id", ev.ID}
	if action != ActionNone {
		attrs = append(attrs, "action", action)
	}
	switch level {
	case Info:
		s.log.Info("SAFETY "+msg, attrs...)
	case Warning:
		s.log.Warn("SAFETY "+msg, attrs...)
	default:
		s.log.Error("SAFETY "+level.String()+": "+msg, attrs...)
	}
}

// Subscribe registers fn for every safety event.
func (s *Supervisor) Subscribe(fn func(Event)) (cancel func()) {
	return s.events.Subscribe(fn)
}

// Events returns the most recent events, oldest first.
func (s *Supervisor) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history...)
}

// SetEnabled turns autonomous enforcement on or off.
func (s *Supervisor) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == on {
		return
	}
	s.enabled = on
	msg := "Safety monitoring disabled"
	if on {
		msg = "Safety monitoring enabled"
	}
	s.emitLocked(Info, CondMonitoring, ActionNone, msg)
}

// Status returns the enabled flag, open latches and the last event.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Enabled: s.enabled}
	for c, on := range s.latched {
		if on {
			st.Latched = append(st.Latched, c)
		}
	}
	slices.Sort(st.Latched)
	if n := len(s.history); n > 0 {
		ev := s.history[n-1]
		st.Last = &ev
	}
	return st
}

// Close stops event delivery.
func (s *Supervisor) Close() { s.events.Close() }
