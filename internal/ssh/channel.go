package ssh

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	// readChunkSize bounds a single stdout/stderr event payload.
	readChunkSize = 32 * 1024
	// eventQueueSize is the number of undelivered events buffered per channel.
	eventQueueSize = 16
)

// ChannelOpener opens channels on an established SSH connection.
// *ssh.Client satisfies it.
type ChannelOpener interface {
	OpenChannel(name string, payload []byte) (ssh.Channel, <-chan *ssh.Request, error)
}

// EventKind tags an Event delivered by a channel.
type EventKind int

const (
	EventConnect EventKind = iota
	EventPTY
	EventExec
	EventStdout
	EventStderr
	EventExitStatus
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventPTY:
		return "pty"
	case EventExec:
		return "exec"
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventExitStatus:
		return "exitstatus"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one step of a channel's lifecycle. Data is set for stdout and
// stderr events; ExitStatus and Signal are set for the exitstatus event.
type Event struct {
	Kind       EventKind
	Data       []byte
	ExitStatus int
	Signal     string
}

// Channel is the live channel handed to event handlers.
type Channel struct {
	ch ssh.Channel
}

// Write sends p to the command's stdin.
func (c *Channel) Write(p []byte) (int, error) {
	return c.ch.Write(p)
}

// CloseWrite signals end of input to the remote command.
func (c *Channel) CloseWrite() error {
	return c.ch.CloseWrite()
}

// Close tears the channel down.
func (c *Channel) Close() error {
	return c.ch.Close()
}

// EventHandler receives channel events in order. Returning an error closes
// the channel and aborts the command with that error.
type EventHandler func(ch *Channel, ev Event) error

// PTY describes the pseudo-terminal requested for a command.
type PTY struct {
	Term  string
	Cols  int
	Rows  int
	Modes ssh.TerminalModes
}

// DefaultPTY returns an 80x40 xterm with local echo disabled.
func DefaultPTY() *PTY {
	return &PTY{
		Term: "xterm",
		Cols: 80,
		Rows: 40,
		Modes: ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		},
	}
}

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type execRequestMsg struct {
	Command string
}

type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Error      string
	Lang       string
}

type exitInfo struct {
	status int
	signal string
}

// signalNumbers maps SSH signal names to their POSIX numbers.
var signalNumbers = map[string]int{
	"HUP":  1,
	"INT":  2,
	"QUIT": 3,
	"ILL":  4,
	"ABRT": 6,
	"FPE":  8,
	"KILL": 9,
	"USR1": 10,
	"SEGV": 11,
	"USR2": 12,
	"PIPE": 13,
	"ALRM": 14,
	"TERM": 15,
}

// runChannel opens a session channel, optionally negotiates a PTY, starts
// command and delivers every event to handle in order:
//
//	connect, [pty], exec, (stdout|stderr)*, exitstatus
//
// exitstatus is delivered exactly once, after both output streams reached
// EOF. It blocks until then, until handle fails, or until ctx ends.
func runChannel(ctx context.Context, opener ChannelOpener, command string, pty *PTY, handle EventHandler) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{Err: err}
	}

	raw, reqs, err := opener.OpenChannel("session", nil)
	if err != nil {
		return &TransportError{Op: "open channel", Err: err}
	}
	defer raw.Close()

	ch := &Channel{ch: raw}
	done := make(chan struct{})
	defer close(done)

	exits := make(chan exitInfo, 1)
	reqsDone := make(chan struct{})
	go watchRequests(reqs, exits, reqsDone)

	if err := handle(ch, Event{Kind: EventConnect}); err != nil {
		return err
	}

	if pty != nil {
		ok, err := raw.SendRequest("pty-req", true, ssh.Marshal(ptyRequest(pty)))
		if err != nil {
			return &TransportError{Op: "request pty", Err: err}
		}
		if !ok {
			return &ChannelSetupError{Reason: "could not request PTY"}
		}
		if err := handle(ch, Event{Kind: EventPTY}); err != nil {
			return err
		}
	}

	events := make(chan Event, eventQueueSize)
	var readers sync.WaitGroup
	readers.Add(2)
	go pump(raw, EventStdout, events, done, &readers)
	go pump(raw.Stderr(), EventStderr, events, done, &readers)
	readersDone := make(chan struct{})
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	ok, err := raw.SendRequest("exec", true, ssh.Marshal(execRequestMsg{Command: command}))
	if err != nil {
		return &TransportError{Op: "exec", Err: err}
	}
	if !ok {
		return &ChannelSetupError{Reason: "could not start command execution"}
	}
	if err := handle(ch, Event{Kind: EventExec}); err != nil {
		return err
	}

	if err := deliverOutput(ctx, ch, events, readersDone, handle); err != nil {
		return err
	}

	var exit exitInfo
	select {
	case exit = <-exits:
	case <-reqsDone:
		select {
		case exit = <-exits:
		default:
			return &TransportError{Op: "wait", Err: ErrNoExitStatus}
		}
	case <-ctx.Done():
		return &CancelledError{Err: ctx.Err()}
	}

	return handle(ch, Event{Kind: EventExitStatus, ExitStatus: exit.status, Signal: exit.signal})
}

// deliverOutput forwards stdout and stderr events until both readers finish.
func deliverOutput(ctx context.Context, ch *Channel, events <-chan Event, readersDone <-chan struct{}, handle EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return &CancelledError{Err: ctx.Err()}
		case ev := <-events:
			if err := handle(ch, ev); err != nil {
				return err
			}
		case <-readersDone:
			// Readers have stopped sending; whatever is queued is the tail.
			for {
				select {
				case ev := <-events:
					if err := handle(ch, ev); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// pump reads r until EOF, emitting one event per read.
func pump(r io.Reader, kind EventKind, events chan<- Event, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case events <- Event{Kind: kind, Data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// watchRequests services channel requests until the channel closes. The
// first exit-status or exit-signal is forwarded on exits; later ones are
// ignored.
func watchRequests(reqs <-chan *ssh.Request, exits chan<- exitInfo, finished chan<- struct{}) {
	defer close(finished)
	seen := false
	for req := range reqs {
		var info exitInfo
		matched := false
		switch req.Type {
		case "exit-status":
			if len(req.Payload) >= 4 {
				info.status = int(binary.BigEndian.Uint32(req.Payload))
				matched = true
			}
		case "exit-signal":
			var msg exitSignalMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				info.signal = msg.Signal
				info.status = signalExitStatus(msg.Signal)
				matched = true
			}
		}
		if matched && !seen {
			seen = true
			exits <- info
		}
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

// signalExitStatus follows the shell convention of 128+signo.
func signalExitStatus(signal string) int {
	if n, ok := signalNumbers[signal]; ok {
		return 128 + n
	}
	return -1
}

func ptyRequest(p *PTY) ptyRequestMsg {
	return ptyRequestMsg{
		Term:     p.Term,
		Columns:  uint32(p.Cols),
		Rows:     uint32(p.Rows),
		Width:    uint32(p.Cols * 8),
		Height:   uint32(p.Rows * 8),
		Modelist: encodeTerminalModes(p.Modes),
	}
}

// encodeTerminalModes serializes modes as RFC 4254 opcode/uint32 pairs
// terminated by TTY_OP_END.
func encodeTerminalModes(modes ssh.TerminalModes) string {
	keys := make([]int, 0, len(modes))
	for k := range modes {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)

	buf := make([]byte, 0, len(keys)*5+1)
	for _, k := range keys {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], modes[uint8(k)])
		buf = append(buf, byte(k))
		buf = append(buf, v[:]...)
	}
	buf = append(buf, 0)
	return string(buf)
}
