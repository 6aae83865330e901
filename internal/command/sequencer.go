// Package command turns operator intents into validated wire commands and
// drives the flight mode machine from their acknowledgements.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/protocol"
)

// Argument ranges accepted by the vehicle.
const (
	MinMoveCM    = 20
	MaxMoveCM    = 500
	MinRotateDeg = 1
	MaxRotateDeg = 360
	MinSpeed     = 10
	MaxSpeed     = 100
)

// Transport sends commands to the vehicle.
type Transport interface {
	SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
	SendCommandAsync(cmd protocol.Command) error
}

// Sequencer validates and issues commands. Failed commands are never retried.
type Sequencer struct {
	link              Transport
	state             *flight.Store
	timeouts          config.CommandTimeouts
	minTakeoffBattery int
	log               *slog.Logger
}

// New returns a sequencer that mutates state from command outcomes.
// Takeoff is refused while the last reported battery is below minTakeoffBattery.
func New(link Transport, state *flight.Store, timeouts config.CommandTimeouts, minTakeoffBattery int, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		link:              link,
		state:             state,
		timeouts:          timeouts,
		minTakeoffBattery: minTakeoffBattery,
		log:               log.With("component", "sequencer"),
	}
}

// State returns a snapshot of the flight state.
func (s *Sequencer) State() flight.State { return s.state.Snapshot() }

// Initialize enters SDK mode. Repeating it in Manual is a no-op. Within a
// session where SDK mode was already entered it completes without I/O.
func (s *Sequencer) Initialize(ctx context.Context) error {
	st := s.state.Snapshot()
	if st.Mode == flight.Manual {
		return nil
	}
	if err := s.state.Transition(flight.Initializing); err != nil {
		return protocol.Wrap(protocol.CmdSDK, err)
	}
	if st.Initialized {
		s.settle(flight.Manual)
		s.log.Info("sdk mode already active", "mode", flight.Manual)
		return nil
	}
	if _, err := s.exec(ctx, protocol.New(protocol.CmdSDK, s.timeouts.Timeout(protocol.CmdSDK))); err != nil {
		s.settle(flight.Idle)
		return err
	}
	s.settle(flight.Manual)
	return nil
}

// Takeoff requires Manual mode on the ground.
func (s *Sequencer) Takeoff(ctx context.Context) error {
	err := s.state.TransitionIf(flight.TakingOff, func(st flight.State) error {
		if st.Airborne() {
			return fmt.Errorf("%w: already airborne", protocol.ErrInvalidState)
		}
		if b, ok := st.Battery(); ok && b < s.minTakeoffBattery {
			return fmt.Errorf("%w: battery %d%% below takeoff minimum %d%%", protocol.ErrInvalidState, b, s.minTakeoffBattery)
		}
		return nil
	})
	if err != nil {
		return protocol.Wrap(protocol.CmdTakeoff, err)
	}
	if _, err := s.exec(ctx, protocol.New(protocol.CmdTakeoff, s.timeouts.Timeout(protocol.CmdTakeoff))); err != nil {
		s.settle(flight.Idle)
		return err
	}
	if s.settle(flight.Manual) {
		s.state.BeginFlight()
	}
	return nil
}

// Land requires Manual mode. A failed landing returns to Manual.
func (s *Sequencer) Land(ctx context.Context) error {
	if err := s.state.Transition(flight.Landing); err != nil {
		return protocol.Wrap(protocol.CmdLand, err)
	}
	if _, err := s.exec(ctx, protocol.New(protocol.CmdLand, s.timeouts.Timeout(protocol.CmdLand))); err != nil {
		s.settle(flight.Manual)
		return err
	}
	s.state.EndFlight()
	s.settle(flight.Idle)
	return nil
}

// Move flies dir ("forward", "back", "left", "right", "up", "down") by cm.
func (s *Sequencer) Move(ctx context.Context, dir string, cm int) error {
	if !protocol.Directions[dir] {
		return protocol.Wrap(dir, fmt.Errorf("%w: unknown direction %q", protocol.ErrValidation, dir))
	}
	if cm < MinMoveCM || cm > MaxMoveCM {
		return protocol.Wrap(dir, fmt.Errorf("%w: distance %d outside %d..%d cm", protocol.ErrValidation, cm, MinMoveCM, MaxMoveCM))
	}
	if err := s.requireAirborne(); err != nil {
		return protocol.Wrap(dir, err)
	}
	_, err := s.exec(ctx, protocol.WithArg(dir, cm, s.timeouts.Timeout(dir)))
	return err
}

// Rotate turns clockwise ("cw") or counter-clockwise ("ccw") by deg.
func (s *Sequencer) Rotate(ctx context.Context, dir string, deg int) error {
	if dir != protocol.CmdCW && dir != protocol.CmdCCW {
		return protocol.Wrap(dir, fmt.Errorf("%w: unknown rotation %q", protocol.ErrValidation, dir))
	}
	if deg < MinRotateDeg || deg > MaxRotateDeg {
		return protocol.Wrap(dir, fmt.Errorf("%w: angle %d outside %d..%d", protocol.ErrValidation, deg, MinRotateDeg, MaxRotateDeg))
	}
	if err := s.requireAirborne(); err != nil {
		return protocol.Wrap(dir, err)
	}
	_, err := s.exec(ctx, protocol.WithArg(dir, deg, s.timeouts.Timeout(dir)))
	return err
}

// SetSpeed sets the vehicle speed scale.
func (s *Sequencer) SetSpeed(ctx context.Context, v int) error {
	if v < MinSpeed || v > MaxSpeed {
		return protocol.Wrap(protocol.CmdSpeed, fmt.Errorf("%w: speed %d outside %d..%d", protocol.ErrValidation, v, MinSpeed, MaxSpeed))
	}
	if m := s.state.Mode(); m != flight.Manual {
		return protocol.Wrap(protocol.CmdSpeed, fmt.Errorf("%w: speed needs manual mode, have %s", protocol.ErrInvalidState, m))
	}
	_, err := s.exec(ctx, protocol.WithArg(protocol.CmdSpeed, v, s.timeouts.Timeout(protocol.CmdSpeed)))
	return err
}

// Hover stops any motion in progress.
func (s *Sequencer) Hover(ctx context.Context) error {
	if err := s.requireAirborne(); err != nil {
		return protocol.Wrap(protocol.CmdStop, err)
	}
	_, err := s.exec(ctx, protocol.New(protocol.CmdStop, s.timeouts.Timeout(protocol.CmdStop)))
	return err
}

// QueryBattery asks the vehicle for its battery percentage.
func (s *Sequencer) QueryBattery(ctx context.Context) (int, error) {
	resp, err := s.exec(ctx, protocol.New(protocol.CmdBattery, s.timeouts.Timeout(protocol.CmdBattery)))
	if err != nil {
		return 0, err
	}
	if resp.Kind != protocol.ResponseValue {
		return 0, protocol.Wrap(protocol.CmdBattery, fmt.Errorf("%w: expected a number, got %q", protocol.ErrParse, resp.Raw))
	}
	return resp.Value, nil
}

// EmergencyStop cuts the motors. The mode change is unconditional and
// happens before transmission; only a transmission failure is returned.
func (s *Sequencer) EmergencyStop(ctx context.Context) error {
	from := s.state.Mode()
	_ = s.state.Transition(flight.EmergencyStopped)
	cmd := protocol.New(protocol.CmdEmergency, s.timeouts.Timeout(protocol.CmdEmergency))
	cmd.Priority = true
	err := s.link.SendCommandAsync(cmd)
	if err != nil {
		s.log.Error("EMERGENCY STOP transmission failed", "from", from, "err", err)
		return err
	}
	s.log.Error("EMERGENCY STOP sent", "from", from)
	return nil
}

func (s *Sequencer) requireAirborne() error {
	st := s.state.Snapshot()
	if st.Mode != flight.Manual {
		return fmt.Errorf("%w: motion needs manual mode, have %s", protocol.ErrInvalidState, st.Mode)
	}
	if !st.Airborne() {
		return fmt.Errorf("%w: vehicle is not airborne", protocol.ErrInvalidState)
	}
	return nil
}

// settle applies a post-acknowledgement transition. It fails only when
// another path moved the mode meanwhile, e.g. an emergency stop.
func (s *Sequencer) settle(to flight.Mode) bool {
	if err := s.state.Transition(to); err != nil {
		s.log.Warn("mode change skipped", "to", to, "err", err)
		return false
	}
	return true
}

func (s *Sequencer) exec(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	start := time.Now()
	resp, err := s.link.SendCommand(ctx, cmd)
	latency := time.Since(start).Round(time.Millisecond)
	if err != nil {
		s.log.Warn("command failed", "cmd", cmd.String(), "latency", latency, "err", err)
		return resp, err
	}
	s.log.Info("command acknowledged", "cmd", cmd.String(), "resp", resp.Raw, "latency", latency)
	return resp, nil
}
