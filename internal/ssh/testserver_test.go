package ssh

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testServer is an SSH server on 127.0.0.1 that runs exec requests with the
// local sh.
type testServer struct {
	addr       string
	port       int
	clientKey  []byte
	hostKey    ssh.PublicKey
	conns      atomic.Int32
	listener   net.Listener
	refuseExec atomic.Bool
	wg         sync.WaitGroup

	mu      sync.Mutex
	netConn []net.Conn
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	hostSigner, err := ssh.NewSignerFromKey(newED25519Key(t))
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	clientPriv := newED25519Key(t)
	clientSigner, err := ssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	authorized := clientSigner.PublicKey().Marshal()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized) {
				return nil, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &testServer{
		addr:      ln.Addr().String(),
		port:      ln.Addr().(*net.TCPAddr).Port,
		clientKey: marshalKey(t, clientPriv, ""),
		hostKey:   hostSigner.PublicKey(),
		listener:  ln,
	}
	srv.wg.Add(1)
	go srv.serve(config)
	t.Cleanup(func() {
		ln.Close()
		srv.mu.Lock()
		for _, c := range srv.netConn {
			c.Close()
		}
		srv.mu.Unlock()
		srv.wg.Wait()
	})
	return srv
}

// client returns a Client authenticated against the server.
func (s *testServer) client(opts ...ClientOption) *Client {
	opts = append([]ClientOption{
		WithPrivateKey(s.clientKey),
		WithHostKeyCallback(ssh.FixedHostKey(s.hostKey)),
	}, opts...)
	return NewClient("127.0.0.1", "tester", s.port, "", opts...)
}

func (s *testServer) serve(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.netConn = append(s.netConn, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn, config)
		}()
	}
}

func (s *testServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	defer netConn.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	s.conns.Add(1)
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec":
			var msg execRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || s.refuseExec.Load() {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go runShell(ch, msg.Command)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// runShell runs command with sh and reports its exit status on ch.
func runShell(ch ssh.Channel, command string) {
	defer ch.Close()

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return
	}
	if err := cmd.Start(); err != nil {
		_, _ = io.WriteString(ch.Stderr(), err.Error())
		sendExitStatus(ch, 127)
		return
	}
	go func() {
		_, _ = io.Copy(stdin, ch)
		stdin.Close()
	}()

	_ = cmd.Wait()
	sendExitStatus(ch, uint32(cmd.ProcessState.ExitCode()))
}

func sendExitStatus(ch ssh.Channel, code uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}
