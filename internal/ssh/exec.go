package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yoanbernabeu/sshconnector/internal/security"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

// Request describes one remote command invocation. The executor owns it for
// the duration of Execute: it appends to Stdout and Stderr and sets Result
// exactly once.
type Request struct {
	// ID correlates log lines and history records; generated when empty.
	ID string

	Command shell.Command
	Dir     string
	Env     map[string]string

	// Stdin is sent once the command is running (after the sudo password
	// when one is needed). Without Stdin or Input the remote stdin is closed
	// at once, unless a PTY is attached: a terminal stays open until the
	// command exits.
	Stdin []byte
	// Input streams stdin instead of, or after, Stdin. It runs on its own
	// goroutine; the remote stdin is closed when it returns. If the command
	// exits before reading all of its input, the exit status is returned and
	// the write error Input saw is dropped.
	Input func(w io.Writer) error

	// PTY requests a terminal. Interactive sudo always gets one, so its
	// stdin and stdout pass through the remote line discipline and are not
	// byte-exact (CRLF output, line-buffered input).
	PTY      bool
	Terminal *PTY
	Sudo     shell.Sudo

	// Stdout and Stderr accumulate output when non-nil.
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
	// LiveStdout and LiveStderr receive each chunk as it arrives.
	LiveStdout io.Writer
	LiveStderr io.Writer

	Result *Result
}

// NewRequest returns a request for cmd with output buffers attached.
func NewRequest(cmd shell.Command) *Request {
	return &Request{
		Command: cmd,
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	}
}

// Result is the terminal status of a remote command.
type Result struct {
	ExitCode int
	// Signal is set when the command was killed by a signal.
	Signal string
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Err returns an *ExitError for a non-zero status, nil otherwise.
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	return &ExitError{exitStatus: r.ExitCode, signal: r.Signal}
}

// ExecResult holds the result of a command execution
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Execute runs req over a new channel and blocks until the command
// terminates. On error no Result is attached: ChannelSetupError when the
// host refuses the PTY or exec, TransportError when the connection fails,
// CancelledError when ctx ends first.
func (c *Client) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	conn, err := c.conn(ctx)
	var result *Result
	if err == nil {
		result, err = execute(ctx, conn, req, c.opts.logger)
	}

	c.record(req, result, err, time.Since(start))
	return result, err
}

// execute drives one request over opener.
func execute(ctx context.Context, opener ChannelOpener, req *Request, logger Logger) (*Result, error) {
	if req.Result != nil {
		return nil, errors.New("request has already been executed")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Sudo.Validate(); err != nil {
		return nil, err
	}

	command, err := shell.Build(req.Command, req.Dir, req.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build command: %w", err)
	}
	command = req.Sudo.Wrap(command)

	var pty *PTY
	// sudo only reads a password from a terminal
	if req.PTY || req.Sudo.Interactive() {
		pty = req.Terminal
		if pty == nil {
			pty = DefaultPTY()
		}
	}

	logger.Printf("[ssh] %s exec: %s", shortID(req.ID), security.SanitizeCommandForLog(command))
	start := time.Now()

	run := &execution{req: req, closeIdleStdin: pty == nil}
	if req.Sudo.Interactive() {
		run.filter = newSudoFilter()
	}

	err = runChannel(ctx, opener, command, pty, run.handle)
	inputErr := run.waitInput(ctx)

	switch {
	case inputErr != nil && req.Result != nil:
		// the command exited before reading all of its input
		logger.Printf("[ssh] %s input stopped by exit: %v", shortID(req.ID), inputErr)
	case inputErr != nil && !run.channelFailed && (err == nil || errors.Is(err, ErrNoExitStatus)):
		// Input failed and the input goroutine closed the channel
		req.Result = nil
		logger.Printf("[ssh] %s input failed: %v", shortID(req.ID), inputErr)
		return nil, fmt.Errorf("failed to send input: %w", inputErr)
	case err != nil:
		req.Result = nil
		logger.Printf("[ssh] %s failed after %s: %v", shortID(req.ID), time.Since(start), err)
		return nil, err
	}

	logger.Printf("[ssh] %s exited %d in %s", shortID(req.ID), req.Result.ExitCode, time.Since(start))
	return req.Result, nil
}

// execution is the per-command state shared by the event handler and the
// input goroutine.
type execution struct {
	req    *Request
	filter *sudoFilter

	// closeIdleStdin closes stdin right after exec when there is no input.
	closeIdleStdin bool

	inputDone     chan struct{}
	inputErr      error
	channelFailed bool
}

func (e *execution) handle(ch *Channel, ev Event) error {
	switch ev.Kind {
	case EventExec:
		if e.filter == nil {
			e.startInput(ch)
		}
	case EventStdout:
		data := ev.Data
		if e.filter != nil {
			visible, matched := e.filter.Feed(data)
			if matched {
				if _, err := ch.Write([]byte(e.req.Sudo.Password + "\n")); err != nil {
					return &TransportError{Op: "send sudo password", Err: err}
				}
				e.startInput(ch)
			}
			data = visible
		}
		if err := deliver(e.req.Stdout, e.req.LiveStdout, data); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	case EventStderr:
		if err := deliver(e.req.Stderr, e.req.LiveStderr, ev.Data); err != nil {
			return fmt.Errorf("write stderr: %w", err)
		}
	case EventExitStatus:
		if e.req.Result == nil {
			e.req.Result = &Result{ExitCode: ev.ExitStatus, Signal: ev.Signal}
		}
	}
	return nil
}

// startInput sends the request's pending input on its own goroutine.
func (e *execution) startInput(ch *Channel) {
	if e.req.Stdin == nil && e.req.Input == nil {
		if e.closeIdleStdin && e.filter == nil {
			_ = ch.CloseWrite()
		}
		return
	}
	e.inputDone = make(chan struct{})
	go func() {
		defer close(e.inputDone)
		w := &channelWriter{w: ch}
		if err := e.sendInput(w); err != nil {
			e.inputErr = err
			e.channelFailed = w.err != nil
			ch.Close()
			return
		}
		_ = ch.CloseWrite()
	}()
}

// channelWriter remembers the first write error of the channel itself, to
// tell a closed channel apart from a failing Input.
type channelWriter struct {
	w   io.Writer
	err error
}

func (c *channelWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

func (e *execution) sendInput(w io.Writer) error {
	if e.req.Stdin != nil {
		if _, err := w.Write(e.req.Stdin); err != nil {
			return err
		}
	}
	if e.req.Input != nil {
		return e.req.Input(w)
	}
	return nil
}

func (e *execution) waitInput(ctx context.Context) error {
	if e.inputDone == nil {
		return nil
	}
	select {
	case <-e.inputDone:
		return e.inputErr
	case <-ctx.Done():
		return nil
	}
}

// deliver appends data to buf and mirrors it to live.
func deliver(buf *bytes.Buffer, live io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if buf != nil {
		buf.Write(data)
	}
	if live != nil {
		if _, err := live.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) record(req *Request, result *Result, err error, elapsed time.Duration) {
	if c.opts.recorder == nil {
		return
	}
	entry := CommandRecord{
		RequestID: req.ID,
		Server:    c.opts.server,
		Host:      c.Addr(),
		User:      c.User,
		Command:   security.SanitizeCommandForLog(req.Sudo.Wrap(req.Command.String())),
		Sudo:      req.Sudo.Mode.String(),
		Duration:  elapsed,
		ExitCode:  -1,
	}
	if result != nil {
		entry.ExitCode = result.ExitCode
		entry.Signal = result.Signal
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if recErr := c.opts.recorder.RecordCommand(entry); recErr != nil {
		c.opts.logger.Printf("[ssh] %s failed to record command: %v", shortID(req.ID), recErr)
	}
}

// Exec executes a command on the remote server
func (c *Client) Exec(ctx context.Context, command string) (*ExecResult, error) {
	req := NewRequest(shell.Raw(command))
	result, err := c.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}

	return &ExecResult{
		Stdout:   req.Stdout.String(),
		Stderr:   req.Stderr.String(),
		ExitCode: result.ExitCode,
	}, nil
}

// ExecStream executes a command and streams output to stdout/stderr.
// A non-zero exit status is returned as *ExitError.
func (c *Client) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) error {
	req := &Request{
		Command:    shell.Raw(command),
		LiveStdout: stdout,
		LiveStderr: stderr,
	}
	result, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	return result.Err()
}

// ExecWithOutput executes a command and returns its trimmed stdout
func (c *Client) ExecWithOutput(ctx context.Context, command string) (string, error) {
	result, err := c.Exec(ctx, command)
	if err != nil {
		return "", err
	}

	output := strings.TrimSpace(result.Stdout)
	if result.ExitCode != 0 {
		errMsg := strings.TrimSpace(result.Stderr)
		if errMsg == "" {
			errMsg = output
		}
		return output, fmt.Errorf("command failed (exit %d): %s", result.ExitCode, errMsg)
	}

	return output, nil
}

// ExecMultiple executes multiple commands in sequence
func (c *Client) ExecMultiple(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		result, err := c.Exec(ctx, cmd)
		if err != nil {
			return fmt.Errorf("failed to execute '%s': %w", cmd, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("command '%s' failed (exit %d): %s",
				cmd, result.ExitCode, result.Stderr)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
