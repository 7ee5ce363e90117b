package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/yoanbernabeu/sshconnector/internal/constants"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

// ErrNoSecretKey is returned when a stored secret is needed but no key is set.
var ErrNoSecretKey = errors.New(constants.EnvVar("SECRET_KEY") + " is not set")

// Secrets encrypts values stored in the config file. The first key encrypts;
// every key is tried on decryption so keys can be rotated.
type Secrets struct {
	keys []*fernet.Key
}

// GenerateSecretKey returns a new base64 fernet key.
func GenerateSecretKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return k.Encode(), nil
}

// NewSecrets parses a comma-separated list of fernet keys.
func NewSecrets(encoded string) (*Secrets, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, ErrNoSecretKey
	}
	parts := strings.Split(encoded, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	keys, err := fernet.DecodeKeys(parts...)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return &Secrets{keys: keys}, nil
}

// Encrypt returns a fernet token for plaintext.
func (s *Secrets) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), s.keys[0])
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt returns the plaintext of token.
func (s *Secrets) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, s.keys)
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token or wrong key")
	}
	return string(msg), nil
}

// SetSudo stores the sudo policy of server, encrypting password for the
// password mode.
func (s *ServerConfig) SetSudo(mode shell.SudoMode, password string, secrets *Secrets) error {
	s.Sudo = SudoConfig{Mode: mode.String()}
	if mode != shell.SudoPassword || password == "" {
		return nil
	}
	if secrets == nil {
		return ErrNoSecretKey
	}
	token, err := secrets.Encrypt(password)
	if err != nil {
		return err
	}
	s.Sudo.PasswordEncrypted = token
	return nil
}

// SudoPolicy resolves the server's elevation policy. A non-empty password
// overrides the stored one; secrets is only needed to decrypt a stored
// password and may be nil otherwise.
func (s *ServerConfig) SudoPolicy(password string, secrets *Secrets) (shell.Sudo, error) {
	mode, err := shell.ParseSudoMode(s.Sudo.Mode)
	if err != nil {
		return shell.Sudo{}, err
	}

	switch mode {
	case shell.SudoNonInteractive:
		return shell.NonInteractiveSudo(), nil
	case shell.SudoPassword:
		if password != "" {
			return shell.PasswordSudo(password), nil
		}
		if s.Sudo.PasswordEncrypted == "" {
			return shell.Sudo{}, fmt.Errorf("server '%s' uses sudo password mode but no password is stored; set %s or run 'server set-sudo'",
				s.Name, constants.EnvVar("SUDO_PASSWORD"))
		}
		if secrets == nil {
			return shell.Sudo{}, ErrNoSecretKey
		}
		plain, err := secrets.Decrypt(s.Sudo.PasswordEncrypted)
		if err != nil {
			return shell.Sudo{}, fmt.Errorf("failed to decrypt sudo password for '%s': %w", s.Name, err)
		}
		return shell.PasswordSudo(plain), nil
	default:
		return shell.NoSudo(), nil
	}
}
