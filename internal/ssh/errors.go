package ssh

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Client after Close.
var ErrClosed = errors.New("ssh client is closed")

// ErrNoExitStatus is the transport failure reported when a channel closes
// without an exit-status or exit-signal request.
var ErrNoExitStatus = errors.New("channel closed without exit status")

// ChannelSetupError reports that the remote side refused PTY allocation or
// command execution. It is fatal for the invocation.
type ChannelSetupError struct {
	Reason string
}

func (e *ChannelSetupError) Error() string {
	return e.Reason
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotImplementedError is returned by operations this adapter does not provide.
type NotImplementedError struct {
	Op string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented for ssh targets", e.Op)
}

// CancelledError is returned when the caller's context ends before the
// command terminates. It unwraps to the context error.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("command cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// ExitError represents a remote command that exited with a non-zero status
type ExitError struct {
	exitStatus int
	signal     string
}

func (e *ExitError) Error() string {
	if e.signal != "" {
		return fmt.Sprintf("killed by signal %s (exit status %d)", e.signal, e.exitStatus)
	}
	return fmt.Sprintf("exit status %d", e.exitStatus)
}

func (e *ExitError) ExitStatus() int {
	return e.exitStatus
}

// Signal returns the signal name if the command was killed by one.
func (e *ExitError) Signal() string {
	return e.signal
}
