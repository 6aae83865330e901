package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the link, sequencer and supervisor.
var (
	// ErrValidation reports an argument outside its permitted range. Nothing was sent.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState reports a command that is not allowed in the current flight mode.
	ErrInvalidState = errors.New("invalid state")
	// ErrTimeout reports that no response arrived within the command deadline.
	ErrTimeout = errors.New("command timed out")
	// ErrLinkDown reports that the link was lost or closed while a command was pending.
	ErrLinkDown = errors.New("link down")
	// ErrParse reports malformed telemetry or an unrecognised response.
	ErrParse = errors.New("parse error")
	// ErrBusy reports that another command is already awaiting its response.
	ErrBusy = errors.New("command in flight")
	// ErrRejected reports a negative acknowledgment from the vehicle.
	ErrRejected = errors.New("rejected by vehicle")
	// ErrSuperseded reports a pending command abandoned because a priority
	// command was sent over it; the next reply belongs to the priority command.
	ErrSuperseded = errors.New("superseded by priority command")
	// ErrNotConnected reports use of a channel that is not connected.
	ErrNotConnected = errors.New("not connected")
)

// CommandError ties a failure to the command that caused it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Wrap returns err annotated with the command name. A nil err stays nil.
func Wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Err: err}
}
