// Package script runs a recorded sequence of operator commands through the
// command sequencer.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"droneops-ctl/internal/protocol"
)

// Script is an ordered list of operator steps.
type Script struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step is one operator command. In YAML a step is written the way an
// operator would type it, e.g. "move forward 100" or "wait 2s".
type Step struct {
	Op    string
	Dir   string
	Value int
	Wait  time.Duration
}

// Ops understood by ParseStep.
const (
	OpInitialize = "initialize"
	OpTakeoff    = "takeoff"
	OpLand       = "land"
	OpHover      = "hover"
	OpMove       = "move"
	OpRotate     = "rotate"
	OpSpeed      = "speed"
	OpBattery    = "battery"
	OpWait       = "wait"
)

func (s Step) String() string {
	switch s.Op {
	case OpMove, OpRotate:
		return fmt.Sprintf("%s %s %d", s.Op, s.Dir, s.Value)
	case OpSpeed:
		return fmt.Sprintf("%s %d", s.Op, s.Value)
	case OpWait:
		return fmt.Sprintf("%s %s", s.Op, s.Wait)
	}
	return s.Op
}

// ParseStep decodes one textual step.
func ParseStep(text string) (Step, error) {
	f := strings.Fields(strings.ToLower(text))
	if len(f) == 0 {
		return Step{}, fmt.Errorf("%w: empty step", protocol.ErrValidation)
	}
	st := Step{Op: f[0]}
	args := f[1:]
	want := 0
	switch st.Op {
	case OpInitialize, OpTakeoff, OpLand, OpHover, OpBattery:
	case OpMove, OpRotate:
		want = 2
	case OpSpeed, OpWait:
		want = 1
	default:
		return Step{}, fmt.Errorf("%w: unknown step %q", protocol.ErrValidation, text)
	}
	if len(args) != want {
		return Step{}, fmt.Errorf("%w: %q expects %d argument(s)", protocol.ErrValidation, text, want)
	}
	var err error
	switch st.Op {
	case OpMove:
		st.Dir = args[0]
		if !protocol.Directions[st.Dir] {
			return Step{}, fmt.Errorf("%w: unknown direction in %q", protocol.ErrValidation, text)
		}
		st.Value, err = strconv.Atoi(args[1])
	case OpRotate:
		st.Dir = args[0]
		if st.Dir != protocol.CmdCW && st.Dir != protocol.CmdCCW {
			return Step{}, fmt.Errorf("%w: unknown rotation in %q", protocol.ErrValidation, text)
		}
		st.Value, err = strconv.Atoi(args[1])
	case OpSpeed:
		st.Value, err = strconv.Atoi(args[0])
	case OpWait:
		st.Wait, err = time.ParseDuration(args[0])
		if err == nil && st.Wait < 0 {
			err = errors.New("negative duration")
		}
	}
	if err != nil {
		return Step{}, fmt.Errorf("%w: %q: %v", protocol.ErrValidation, text, err)
	}
	return st, nil
}

// UnmarshalYAML accepts the textual step form.
func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	var text string
	if err := n.Decode(&text); err != nil {
		return fmt.Errorf("line %d: step must be a string: %w", n.Line, err)
	}
	st, err := ParseStep(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = st
	return nil
}

// MarshalYAML writes the textual step form.
func (s Step) MarshalYAML() (any, error) { return s.String(), nil }

// Load reads a YAML script from disk.
func Load(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML script.
func Parse(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("parse script: %w: no steps", protocol.ErrValidation)
	}
	return &s, nil
}

// Controller is the subset of the command sequencer a script drives.
type Controller interface {
	Initialize(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Hover(ctx context.Context) error
	Move(ctx context.Context, dir string, cm int) error
	Rotate(ctx context.Context, dir string, deg int) error
	SetSpeed(ctx context.Context, v int) error
	QueryBattery(ctx context.Context) (int, error)
}

// StepError reports which step aborted a run.
type StepError struct {
	Index int
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes the steps strictly in order. The first failing step aborts
// the run; the vehicle is left in whatever state that step produced.
func Run(ctx context.Context, ctl Controller, s *Script, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("script", s.Name)
	log.Info("script started", "steps", len(s.Steps))
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Index: i, Step: st, Err: err}
		}
		log.Info("script step", "n", i+1, "step", st.String())
		if err := runStep(ctx, ctl, st, log); err != nil {
			log.Error("script aborted", "n", i+1, "step", st.String(), "err", err)
			return &StepError{Index: i, Step: st, Err: err}
		}
	}
	log.Info("script finished")
	return nil
}

func runStep(ctx context.Context, ctl Controller, st Step, log *slog.Logger) error {
	switch st.Op {
	case OpInitialize:
		return ctl.Initialize(ctx)
	case OpTakeoff:
		return ctl.Takeoff(ctx)
	case OpLand:
		return ctl.Land(ctx)
	case OpHover:
		return ctl.Hover(ctx)
	case OpMove:
		return ctl.Move(ctx, st.Dir, st.Value)
	case OpRotate:
		return ctl.Rotate(ctx, st.Dir, st.Value)
	case OpSpeed:
		return ctl.SetSpeed(ctx, st.Value)
	case OpBattery:
		pct, err := ctl.QueryBattery(ctx)
		if err == nil {
			log.Info("battery", "pct", pct)
		}
		return err
	case OpWait:
		t := time.NewTimer(st.Wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return fmt.Errorf("%w: unknown step %q", protocol.ErrValidation, st.Op)
}
