package ssh

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

func TestNewClient_DefaultPort(t *testing.T) {
	client := NewClient("host", "user", 0, "/key")
	if client.Port != 22 {
		t.Errorf("expected default port 22, got %d", client.Port)
	}
	if client.Addr() != "host:22" {
		t.Errorf("Addr() = %s, want host:22", client.Addr())
	}
}

func TestNewClient_CustomPort(t *testing.T) {
	client := NewClient("host", "user", 2222, "/key")
	if client.Port != 2222 {
		t.Errorf("expected port 2222, got %d", client.Port)
	}
}

func TestNewClient_IPv6Addr(t *testing.T) {
	client := NewClient("::1", "user", 22, "")
	if client.Addr() != "[::1]:22" {
		t.Errorf("Addr() = %s, want [::1]:22", client.Addr())
	}
}

func TestNewClient_DefaultOptions(t *testing.T) {
	client := NewClient("host", "user", 22, "/key")
	if client.opts.timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, client.opts.timeout)
	}
	if _, ok := client.opts.logger.(discardLogger); !ok {
		t.Errorf("expected discard logger, got %T", client.opts.logger)
	}
	if client.opts.recorder != nil {
		t.Error("expected no recorder by default")
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	logger := &captureLogger{}
	rec := &memoryRecorder{}
	client := NewClient("host", "user", 22, "/key",
		WithTimeout(10*time.Second),
		WithPassword("pw"),
		WithInsecureHostKey(),
		WithLogger(logger),
		WithRecorder(rec),
		WithServerName("web"),
	)

	if client.opts.timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", client.opts.timeout)
	}
	if client.opts.password != "pw" || !client.opts.insecureHostKey {
		t.Errorf("unexpected options %+v", client.opts)
	}
	if client.opts.logger != logger || client.opts.recorder != rec || client.opts.server != "web" {
		t.Errorf("unexpected options %+v", client.opts)
	}
}

func TestWithTimeout_IgnoresNonPositive(t *testing.T) {
	client := NewClient("host", "user", 22, "", WithTimeout(0), WithTimeout(-time.Second))
	if client.opts.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", client.opts.timeout, DefaultTimeout)
	}
}

func TestWithLogger_NilKeepsDiscard(t *testing.T) {
	client := NewClient("host", "user", 22, "", WithLogger(nil))
	if client.opts.logger == nil {
		t.Fatal("logger is nil")
	}
}

func TestIsConnected_NilClient(t *testing.T) {
	client := NewClient("host", "user", 22, "/key")
	if client.IsConnected() {
		t.Error("expected IsConnected() = false for unconnected client")
	}
}

func TestClose_NilClient(t *testing.T) {
	client := NewClient("host", "user", 22, "/key")
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client returned error: %v", err)
	}
}

func TestExecute_AfterCloseFails(t *testing.T) {
	client := NewClient("host", "user", 22, "/key")
	client.Close()

	_, err := client.Execute(context.Background(), NewRequest(shell.Raw("true")))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() error = %v, want ErrClosed", err)
	}
}

func TestClient_ConnectionIsLazyAndReused(t *testing.T) {
	srv := startTestServer(t)
	client := srv.client()
	defer client.Close()

	if client.IsConnected() || srv.conns.Load() != 0 {
		t.Fatal("client connected before first command")
	}

	for i := 0; i < 3; i++ {
		out, err := client.ExecWithOutput(context.Background(), "echo hi")
		if err != nil {
			t.Fatalf("ExecWithOutput() error = %v", err)
		}
		if out != "hi" {
			t.Errorf("output = %q, want hi", out)
		}
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false after commands")
	}
	if n := srv.conns.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := client.Exec(context.Background(), "echo again"); !errors.Is(err, ErrClosed) {
		t.Errorf("Exec() after Close error = %v, want ErrClosed", err)
	}
	if n := srv.conns.Load(); n != 1 {
		t.Errorf("client reconnected after Close: %d connections", n)
	}
}

func TestClient_Execute(t *testing.T) {
	srv := startTestServer(t)
	client := srv.client()
	defer client.Close()

	tests := []struct {
		name       string
		req        *Request
		wantStdout string
		wantStderr string
		wantCode   int
	}{
		{
			name:       "echo",
			req:        NewRequest(shell.Args("echo", "hi")),
			wantStdout: "hi\n",
		},
		{
			name:       "stderr and exit code",
			req:        NewRequest(shell.Raw("echo oops >&2; exit 3")),
			wantStderr: "oops\n",
			wantCode:   3,
		},
		{
			name: "stdin",
			req: func() *Request {
				r := NewRequest(shell.Args("cat"))
				r.Stdin = []byte("from stdin")
				return r
			}(),
			wantStdout: "from stdin",
		},
		{
			name: "dir and env",
			req: func() *Request {
				r := NewRequest(shell.Raw(`printf '%s %s' "$(pwd)" "$GREETING"`))
				r.Dir = "/"
				r.Env = map[string]string{"GREETING": "it's me"}
				return r
			}(),
			wantStdout: "/ it's me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.Execute(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d", result.ExitCode, tt.wantCode)
			}
			if got := tt.req.Stdout.String(); got != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", got, tt.wantStdout)
			}
			if got := tt.req.Stderr.String(); got != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", got, tt.wantStderr)
			}
		})
	}
}

func TestClient_ExecStream(t *testing.T) {
	srv := startTestServer(t)
	client := srv.client()
	defer client.Close()

	var stdout, stderr strings.Builder
	err := client.ExecStream(context.Background(), "echo out; echo err >&2; exit 4", &stdout, &stderr)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 4 {
		t.Fatalf("ExecStream() error = %v, want exit status 4", err)
	}
	if stdout.String() != "out\n" || stderr.String() != "err\n" {
		t.Errorf("stdout %q stderr %q", stdout.String(), stderr.String())
	}
}

func TestClient_ExecMultiple(t *testing.T) {
	srv := startTestServer(t)
	client := srv.client()
	defer client.Close()

	if err := client.ExecMultiple(context.Background(), []string{"true", "echo ok"}); err != nil {
		t.Fatalf("ExecMultiple() error = %v", err)
	}
	err := client.ExecMultiple(context.Background(), []string{"true", "false", "echo never"})
	if err == nil || !strings.Contains(err.Error(), "'false' failed (exit 1)") {
		t.Errorf("ExecMultiple() error = %v", err)
	}
}

func TestClient_ExecRefused(t *testing.T) {
	srv := startTestServer(t)
	srv.refuseExec.Store(true)
	client := srv.client()
	defer client.Close()

	_, err := client.Execute(context.Background(), NewRequest(shell.Raw("true")))

	var setupErr *ChannelSetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("Execute() error = %v, want *ChannelSetupError", err)
	}
}

func TestClient_RecordsHistory(t *testing.T) {
	srv := startTestServer(t)
	rec := &memoryRecorder{}
	client := srv.client(WithRecorder(rec), WithServerName("local"))
	defer client.Close()

	req := NewRequest(shell.Raw("exit 7"))
	if _, err := client.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	if r := rec.records[0]; r.ExitCode != 7 || r.Server != "local" || r.RequestID != req.ID {
		t.Errorf("record = %+v", r)
	}
}

func TestClient_KnownHostsContent(t *testing.T) {
	srv := startTestServer(t)
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)

	client := NewClient("127.0.0.1", "tester", srv.port, "",
		WithPrivateKey(srv.clientKey),
		WithKnownHosts(line+"\n"),
	)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestClient_HostKeyMismatch(t *testing.T) {
	srv := startTestServer(t)
	other := startTestServer(t)
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, other.hostKey)

	client := NewClient("127.0.0.1", "tester", srv.port, "",
		WithPrivateKey(srv.clientKey),
		WithKnownHosts(line),
	)
	defer client.Close()

	err := client.Connect(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Connect() error = %v, want *TransportError", err)
	}
	if client.IsConnected() {
		t.Error("client connected despite host key mismatch")
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewClient("127.0.0.1", "tester", port, "",
		WithPrivateKey(marshalKey(t, newED25519Key(t), "")),
		WithInsecureHostKey(),
		WithTimeout(2*time.Second),
	)
	defer client.Close()

	_, err = client.Execute(context.Background(), NewRequest(shell.Raw("true")))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "connect" {
		t.Fatalf("Execute() error = %v, want connect *TransportError", err)
	}
}

func TestClient_CancelledCommand(t *testing.T) {
	srv := startTestServer(t)
	client := srv.client()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.Execute(ctx, NewRequest(shell.Raw("sleep 5")))
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("Execute() error = %v, want *CancelledError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestTryConnect(t *testing.T) {
	srv := startTestServer(t)
	keyPath := writeKey(t, t.TempDir(), "id_ed25519", srv.clientKey)

	if err := TryConnect(context.Background(), "127.0.0.1", "tester", srv.port, keyPath, WithInsecureHostKey()); err != nil {
		t.Errorf("TryConnect() error = %v", err)
	}

	wrongKey := writeKey(t, t.TempDir(), "id_ed25519", marshalKey(t, newED25519Key(t), ""))
	if err := TryConnect(context.Background(), "127.0.0.1", "tester", srv.port, wrongKey, WithInsecureHostKey()); err == nil {
		t.Error("TryConnect() with an unauthorized key succeeded")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/deploy")

	tests := map[string]string{
		"~/.ssh/id_ed25519": "/home/deploy/.ssh/id_ed25519",
		"/etc/key":          "/etc/key",
		"~other/key":        "~other/key",
	}
	for in, want := range tests {
		if got := expandHome(in); got != want {
			t.Errorf("expandHome(%q) = %q, want %q", in, got, want)
		}
	}
}
