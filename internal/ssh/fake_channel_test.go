package ssh

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// fakeOpener hands out one scripted fakeChannel.
type fakeOpener struct {
	ch  *fakeChannel
	err error
}

func (o *fakeOpener) OpenChannel(name string, payload []byte) (ssh.Channel, <-chan *ssh.Request, error) {
	if o.err != nil {
		return nil, nil, o.err
	}
	o.ch.opened = name
	return o.ch, o.ch.reqs, nil
}

// fakeChannel is an in-memory ssh.Channel whose remote side runs script
// once exec is accepted.
type fakeChannel struct {
	t *testing.T

	opened  string
	ptyOK   bool
	execOK  bool
	script  func(s *fakeRemote)
	reqs    chan *ssh.Request
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu          sync.Mutex
	requests    []string
	execPayload string
	writes      []string
	closedWrite bool
	closed      bool
	closeOnce   sync.Once
}

func newFakeChannel(t *testing.T, script func(s *fakeRemote)) *fakeChannel {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	return &fakeChannel{
		t:       t,
		ptyOK:   true,
		execOK:  true,
		script:  script,
		reqs:    make(chan *ssh.Request, 8),
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
	}
}

func (c *fakeChannel) Read(p []byte) (int, error) { return c.stdoutR.Read(p) }

func (c *fakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.closedWrite {
		return 0, io.EOF
	}
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *fakeChannel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedWrite = true
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stdoutR.Close()
	c.stderrR.Close()
	c.finish()
	return nil
}

func (c *fakeChannel) finish() {
	c.closeOnce.Do(func() {
		c.stdoutW.Close()
		c.stderrW.Close()
		close(c.reqs)
	})
}

func (c *fakeChannel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	c.mu.Lock()
	c.requests = append(c.requests, name)
	c.mu.Unlock()

	switch name {
	case "pty-req":
		return c.ptyOK, nil
	case "exec":
		var msg execRequestMsg
		if err := ssh.Unmarshal(payload, &msg); err != nil {
			return false, err
		}
		c.mu.Lock()
		c.execPayload = msg.Command
		c.mu.Unlock()
		if !c.execOK {
			return false, nil
		}
		if c.script != nil {
			go c.script(&fakeRemote{c: c})
		}
		return true, nil
	}
	return false, nil
}

func (c *fakeChannel) Stderr() io.ReadWriter { return stderrSide{c} }

type stderrSide struct{ c *fakeChannel }

func (s stderrSide) Read(p []byte) (int, error)  { return s.c.stderrR.Read(p) }
func (s stderrSide) Write(p []byte) (int, error) { return 0, errors.New("fake: stderr is read-only") }

func (c *fakeChannel) sentRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

func (c *fakeChannel) stdinWrites() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeChannel) command() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execPayload
}

func (c *fakeChannel) writeClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedWrite
}

// fakeRemote is the server side of a fakeChannel.
type fakeRemote struct {
	c *fakeChannel
}

// Stdout writes one chunk; it is read as exactly one event.
func (r *fakeRemote) Stdout(s string) {
	_, _ = r.c.stdoutW.Write([]byte(s))
}

func (r *fakeRemote) Stderr(s string) {
	_, _ = r.c.stderrW.Write([]byte(s))
}

func (r *fakeRemote) ExitStatus(code uint32) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, code)
	r.c.reqs <- &ssh.Request{Type: "exit-status", Payload: payload}
}

func (r *fakeRemote) ExitSignal(signal string) {
	r.c.reqs <- &ssh.Request{Type: "exit-signal", Payload: ssh.Marshal(exitSignalMsg{Signal: signal})}
}

func (r *fakeRemote) Request(name string) {
	r.c.reqs <- &ssh.Request{Type: name}
}

// Close sends EOF on both streams and closes the channel.
func (r *fakeRemote) Close() {
	r.c.finish()
}

// WaitWrites blocks until the client has sent at least n stdin writes.
func (r *fakeRemote) WaitWrites(n int) []string {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w := r.c.stdinWrites(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.c.t.Errorf("timed out waiting for %d stdin writes", n)
	return r.c.stdinWrites()
}
