package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"droneops-ctl/internal/protocol"
)

type recordingController struct {
	calls  []string
	failOn string
}

func (r *recordingController) do(call string) error {
	r.calls = append(r.calls, call)
	if call == r.failOn {
		return protocol.Wrap(call, protocol.ErrTimeout)
	}
	return nil
}

func (r *recordingController) Initialize(context.Context) error { return r.do("initialize") }
func (r *recordingController) Takeoff(context.Context) error    { return r.do("takeoff") }
func (r *recordingController) Land(context.Context) error       { return r.do("land") }
func (r *recordingController) Hover(context.Context) error      { return r.do("hover") }
func (r *recordingController) Move(_ context.Context, dir string, cm int) error {
	return r.do("move " + dir)
}
func (r *recordingController) Rotate(_ context.Context, dir string, deg int) error {
	return r.do("rotate " + dir)
}
func (r *recordingController) SetSpeed(context.Context, int) error { return r.do("speed") }
func (r *recordingController) QueryBattery(context.Context) (int, error) {
	return 80, r.do("battery")
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseStep(t *testing.T) {
	cases := []struct {
		in   string
		want Step
		ok   bool
	}{
		{"takeoff", Step{Op: OpTakeoff}, true},
		{"Move Forward 100", Step{Op: OpMove, Dir: "forward", Value: 100}, true},
		{"rotate ccw 45", Step{Op: OpRotate, Dir: "ccw", Value: 45}, true},
		{"speed 40", Step{Op: OpSpeed, Value: 40}, true},
		{"wait 1.5s", Step{Op: OpWait, Wait: 1500 * time.Millisecond}, true},
		{"", Step{}, false},
		{"flip", Step{}, false},
		{"move sideways 10", Step{}, false},
		{"rotate up 10", Step{}, false},
		{"move forward", Step{}, false},
		{"speed fast", Step{}, false},
		{"wait -1s", Step{}, false},
		{"land now", Step{}, false},
	}
	for _, tc := range cases {
		got, err := ParseStep(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseStep(%q): %v", tc.in, err)
		}
		if !tc.ok {
			if !errors.Is(err, protocol.ErrValidation) {
				t.Fatalf("ParseStep(%q) = %v, want validation error", tc.in, err)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("ParseStep(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestLoadScript(t *testing.T) {
	sc, err := Load("testdata/square.yaml")
	if err != nil {
		t.Fatalf("load script: %v", err)
	}
	if sc.Name != "bench-square" {
		t.Fatalf("unexpected name %s", sc.Name)
	}
	if len(sc.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(sc.Steps))
	}
	if sc.Steps[2].Dir != "forward" || sc.Steps[2].Value != 50 {
		t.Fatalf("unexpected move step %+v", sc.Steps[2])
	}
	if sc.Steps[4].Wait != 10*time.Millisecond {
		t.Fatalf("unexpected wait %v", sc.Steps[4].Wait)
	}
}

func TestLoadRejectsUnknownStep(t *testing.T) {
	_, err := Load("testdata/bad_step.yaml")
	if err == nil {
		t.Fatalf("expected error for unknown step")
	}
	if !strings.Contains(err.Error(), "barrel-roll") {
		t.Fatalf("error should name the step: %v", err)
	}
}

func TestParseRejectsEmptyScript(t *testing.T) {
	if _, err := Parse([]byte("name: empty\n")); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStepYAMLRoundTrip(t *testing.T) {
	sc := BuiltIn()["square"]
	b, err := yaml.Marshal(&sc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), "- move forward 100") {
		t.Fatalf("steps not written in textual form:\n%s", b)
	}
	back, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(back.Steps) != len(sc.Steps) {
		t.Fatalf("expected %d steps, got %d", len(sc.Steps), len(back.Steps))
	}
}

func TestRunInOrder(t *testing.T) {
	sc, err := Load("testdata/square.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctl := &recordingController{}
	if err := Run(context.Background(), ctl, sc, quiet()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"initialize", "takeoff", "move forward", "rotate cw", "land"}
	if strings.Join(ctl.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}
}

func TestRunAbortsOnFirstError(t *testing.T) {
	sc := BuiltIn()["hop"]
	ctl := &recordingController{failOn: "takeoff"}
	err := Run(context.Background(), ctl, &sc, quiet())
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if se.Index != 2 || se.Step.Op != OpTakeoff {
		t.Fatalf("unexpected failing step %+v", se)
	}
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected wrapped timeout, got %v", err)
	}
	if ctl.calls[len(ctl.calls)-1] != "takeoff" {
		t.Fatalf("steps ran after failure: %v", ctl.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sc := &Script{Name: "long", Steps: []Step{{Op: OpWait, Wait: time.Hour}, {Op: OpLand}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Run(ctx, &recordingController{}, sc, quiet())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBuiltInScripts(t *testing.T) {
	for _, name := range []string{"hop", "square", "pirouette"} {
		sc, ok := BuiltIn()[name]
		if !ok {
			t.Fatalf("script %s not found", name)
		}
		if sc.Description == "" {
			t.Fatalf("script %s missing description", name)
		}
		if sc.Steps[0].Op != OpInitialize || sc.Steps[len(sc.Steps)-1].Op != OpLand {
			t.Fatalf("script %s should start with initialize and end with land", name)
		}
	}
}
