package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestCommandString(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{New(CmdTakeoff, time.Second), "takeoff"},
		{WithArg("forward", 100, time.Second), "forward 100"},
		{WithArg(CmdCW, 90, time.Second), "cw 90"},
		{New(CmdBattery, time.Second), "battery?"},
	}
	for _, c := range cases {
		if got := c.cmd.String(); got != c.want {
			t.Fatalf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		raw   string
		kind  ResponseKind
		value int
		err   bool
	}{
		{"ok", ResponseOK, 0, false},
		{"OK\r\n", ResponseOK, 0, false},
		{"error", ResponseError, 0, false},
		{"error Motor stop", ResponseError, 0, false},
		{"87\r\n", ResponseValue, 87, false},
		{"12dm", ResponseValue, 12, false},
		{"", 0, 0, true},
		{"maybe", 0, 0, true},
	}
	for _, c := range cases {
		r, err := ParseResponse([]byte(c.raw))
		if c.err {
			if !errors.Is(err, ErrParse) {
				t.Fatalf("ParseResponse(%q) err = %v, want ErrParse", c.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseResponse(%q): %v", c.raw, err)
		}
		if r.Kind != c.kind || r.Value != c.value {
			t.Fatalf("ParseResponse(%q) = %+v", c.raw, r)
		}
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	err := Wrap("takeoff", ErrTimeout)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout in chain, got %v", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Command != "takeoff" {
		t.Fatalf("expected CommandError for takeoff, got %#v", err)
	}
	if Wrap("land", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}
