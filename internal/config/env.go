package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/yoanbernabeu/sshconnector/internal/constants"
)

// Env holds the SSHCONNECTOR_* environment overrides.
type Env struct {
	Config           string        `envconfig:"CONFIG"`
	Server           string        `envconfig:"SERVER"`
	SSHKey           string        `envconfig:"SSH_KEY"`
	KnownHosts       string        `envconfig:"KNOWN_HOSTS"`
	SkipHostKeyCheck bool          `envconfig:"SKIP_HOST_KEY_CHECK" default:"false"`
	Password         string        `envconfig:"PASSWORD"`
	SudoPassword     string        `envconfig:"SUDO_PASSWORD"`
	SecretKey        string        `envconfig:"SECRET_KEY"`
	Timeout          time.Duration `envconfig:"TIMEOUT"`
}

// LoadEnv reads the environment overrides.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(constants.EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &env, nil
}

// SSHKeyContent returns SSHCONNECTOR_SSH_KEY when it holds a PEM key rather
// than a path.
func (e *Env) SSHKeyContent() []byte {
	if isPEM(e.SSHKey) {
		return []byte(e.SSHKey)
	}
	return nil
}

// SSHKeyPath returns SSHCONNECTOR_SSH_KEY when it holds a path.
func (e *Env) SSHKeyPath() string {
	if isPEM(e.SSHKey) {
		return ""
	}
	return e.SSHKey
}

func isPEM(s string) bool {
	return len(s) > 10 && s[:10] == "-----BEGIN"
}
