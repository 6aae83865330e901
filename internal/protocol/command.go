// Package protocol defines the text commands exchanged with the vehicle.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire command names.
const (
	CmdSDK       = "command"
	CmdTakeoff   = "takeoff"
	CmdLand      = "land"
	CmdEmergency = "emergency"
	CmdStop      = "stop"
	CmdSpeed     = "speed"
	CmdCW        = "cw"
	CmdCCW       = "ccw"
	CmdBattery   = "battery?"
	CmdStreamOn  = "streamon"
	CmdStreamOff = "streamoff"
)

// Directions accepted by the move command.
var Directions = map[string]bool{
	"forward": true,
	"back":    true,
	"left":    true,
	"right":   true,
	"up":      true,
	"down":    true,
}

// Command is one request to the vehicle.
type Command struct {
	Name     string
	Arg      int
	HasArg   bool
	Timeout  time.Duration
	IssuedAt time.Time
	// Priority commands skip the one-in-flight rule on the link.
	Priority bool
}

// New returns a command without an argument.
func New(name string, timeout time.Duration) Command {
	return Command{Name: name, Timeout: timeout}
}

// WithArg returns a command carrying a numeric argument.
func WithArg(name string, arg int, timeout time.Duration) Command {
	return Command{Name: name, Arg: arg, HasArg: true, Timeout: timeout}
}

// String returns the wire form, e.g. "forward 100".
func (c Command) String() string {
	if c.HasArg {
		return c.Name + " " + strconv.Itoa(c.Arg)
	}
	return c.Name
}

// ResponseKind classifies a response datagram.
type ResponseKind int

const (
	ResponseOK ResponseKind = iota
	ResponseError
	ResponseValue
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseOK:
		return "ok"
	case ResponseError:
		return "error"
	case ResponseValue:
		return "value"
	}
	return "unknown"
}

// Response is a decoded reply to a command.
type Response struct {
	Kind  ResponseKind
	Value int
	Raw   string
}

// Accepted reports whether the vehicle acknowledged the command.
func (r Response) Accepted() bool { return r.Kind != ResponseError }

// ParseResponse decodes a response datagram. Replies that are neither
// "ok", "error" nor an integer are a parse error.
func ParseResponse(raw []byte) (Response, error) {
	s := strings.TrimSpace(string(raw))
	lower := strings.ToLower(s)
	switch {
	case lower == "ok":
		return Response{Kind: ResponseOK, Raw: s}, nil
	case strings.HasPrefix(lower, "error"):
		return Response{Kind: ResponseError, Raw: s}, nil
	}
	// Some firmware appends units, e.g. "87\r\n" or "12dm".
	digits := strings.TrimRightFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	v, err := strconv.Atoi(digits)
	if err != nil || digits == "" {
		return Response{Raw: s}, fmt.Errorf("%w: unexpected response %q", ErrParse, s)
	}
	return Response{Kind: ResponseValue, Value: v, Raw: s}, nil
}
