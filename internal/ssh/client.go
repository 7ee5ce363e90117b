package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout bounds TCP connect plus SSH handshake.
const DefaultTimeout = 30 * time.Second

// Logger receives the adapter's diagnostic lines. Logging is best effort.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout         time.Duration
	password        string
	privateKey      []byte
	knownHosts      string
	insecureHostKey bool
	hostKeyCallback ssh.HostKeyCallback
	logger          Logger
	recorder        Recorder
	server          string
}

func defaultOptions() clientOptions {
	return clientOptions{
		timeout: DefaultTimeout,
		logger:  discardLogger{},
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPassword enables password and keyboard-interactive authentication.
func WithPassword(password string) ClientOption {
	return func(o *clientOptions) { o.password = password }
}

// WithPrivateKey authenticates with the given PEM key instead of KeyPath.
func WithPrivateKey(pem []byte) ClientOption {
	return func(o *clientOptions) { o.privateKey = pem }
}

// WithKnownHosts verifies the host key against known_hosts content.
func WithKnownHosts(content string) ClientOption {
	return func(o *clientOptions) { o.knownHosts = content }
}

// WithInsecureHostKey disables host key verification.
func WithInsecureHostKey() ClientOption {
	return func(o *clientOptions) { o.insecureHostKey = true }
}

// WithHostKeyCallback overrides host key verification entirely.
func WithHostKeyCallback(cb ssh.HostKeyCallback) ClientOption {
	return func(o *clientOptions) { o.hostKeyCallback = cb }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder records every executed command.
func WithRecorder(r Recorder) ClientOption {
	return func(o *clientOptions) { o.recorder = r }
}

// WithServerName labels recorded commands with a configured server name.
func WithServerName(name string) ClientOption {
	return func(o *clientOptions) { o.server = name }
}

// Client is the connection handle to one SSH host. The connection is dialed
// on first use and reused by every command until Close; a closed Client
// never reconnects.
type Client struct {
	Host    string
	User    string
	Port    int
	KeyPath string

	opts clientOptions

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

// NewClient creates a new SSH client
func NewClient(host, user string, port int, keyPath string, opts ...ClientOption) *Client {
	if port == 0 {
		port = 22
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		Host:    host,
		User:    user,
		Port:    port,
		KeyPath: keyPath,
		opts:    o,
	}
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connect establishes the connection now instead of on first command.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.conn(ctx)
	return err
}

// conn returns the memoized connection, dialing it on first use.
func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}

	client, err := c.dial(ctx)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	c.client = client
	c.opts.logger.Printf("[ssh] connected to %s@%s", c.User, c.Addr())
	return client, nil
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.Addr()
	dialer := net.Dialer{Timeout: c.opts.timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The handshake has no context of its own; bound it with a deadline.
	deadline := time.Now().Add(c.opts.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = netConn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	signer, err := c.loadPrivateKey()
	if err != nil && c.opts.password == "" {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	if signer != nil {
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.opts.password != "" {
		password := c.opts.password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("host key verification failed: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.opts.timeout,
	}, nil
}

// Close closes the connection. Commands issued afterwards fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// loadPrivateKey loads the SSH private key
func (c *Client) loadPrivateKey() (ssh.Signer, error) {
	if len(c.opts.privateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.opts.privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse provided private key: %w", err)
		}
		return signer, nil
	}

	keyPath := c.KeyPath
	if keyPath == "" {
		keys, err := DiscoverSSHKeys()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !k.IsEncrypted {
				keyPath = k.Path
				break
			}
		}
		if keyPath == "" {
			return nil, fmt.Errorf("no usable SSH key found in ~/.ssh")
		}
	}

	keyPath = expandHome(keyPath)
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return signer, nil
}

// hostKeyCallback returns the host key callback function.
// known_hosts content given as an option wins, then the insecure switch,
// then ~/.ssh/known_hosts which must exist.
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.hostKeyCallback != nil {
		return c.opts.hostKeyCallback, nil
	}

	if c.opts.knownHosts != "" {
		// knownhosts.New only reads files
		tmpFile, err := os.CreateTemp("", "known_hosts")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp known_hosts: %w", err)
		}
		defer os.Remove(tmpFile.Name())

		if _, err := tmpFile.WriteString(c.opts.knownHosts); err != nil {
			tmpFile.Close()
			return nil, fmt.Errorf("failed to write temp known_hosts: %w", err)
		}
		tmpFile.Close()

		callback, err := knownhosts.New(tmpFile.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to parse known_hosts content: %w", err)
		}
		return callback, nil
	}

	if c.opts.insecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	return defaultKnownHostsCallback(c.Host, c.User, c.Port)
}

// defaultKnownHostsCallback reads ~/.ssh/known_hosts.
func defaultKnownHostsCallback(host, user string, port int) (ssh.HostKeyCallback, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	knownHostsPath := filepath.Join(homeDir, ".ssh", "known_hosts")

	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("SSH known_hosts file not found at %s. "+
			"Please connect to the server manually first with: ssh %s@%s -p %d\n"+
			"Or set SSHCONNECTOR_KNOWN_HOSTS / SSHCONNECTOR_SKIP_HOST_KEY_CHECK=true",
			knownHostsPath, user, host, port)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return callback, nil
}

// expandHome expands a leading ~/ in path.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
