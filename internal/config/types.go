package config

import (
	"time"

	"github.com/yoanbernabeu/sshconnector/internal/constants"
)

// GlobalConfig represents the global ~/.config/sshconnector/config.yaml
type GlobalConfig struct {
	Servers     map[string]ServerConfig `yaml:"servers"`
	DefaultUser string                  `yaml:"default_user,omitempty"`
	DefaultPort int                     `yaml:"default_port,omitempty"`
	// SSHTimeout bounds connect plus handshake, as a Go duration ("30s").
	SSHTimeout string      `yaml:"ssh_timeout,omitempty"`
	Audit      AuditConfig `yaml:"audit,omitempty"`
}

// ServerConfig represents a configured server
type ServerConfig struct {
	Name    string     `yaml:"name,omitempty"`
	Host    string     `yaml:"host"`
	User    string     `yaml:"user"`
	Port    int        `yaml:"port,omitempty"`
	KeyPath string     `yaml:"key_path,omitempty"`
	Sudo    SudoConfig `yaml:"sudo,omitempty"`
}

// SudoConfig is the elevation policy of a server.
type SudoConfig struct {
	// Mode is none, non-interactive or password.
	Mode string `yaml:"mode,omitempty"`
	// PasswordEncrypted is a fernet token, see Secrets.
	PasswordEncrypted string `yaml:"password_encrypted,omitempty"`
}

// AuditConfig controls the local command history.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled,omitempty"`
	Path          string `yaml:"path,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
}

// DefaultGlobalConfig returns a default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Servers:     make(map[string]ServerConfig),
		DefaultUser: constants.DefaultUser,
		DefaultPort: constants.DefaultSSHPort,
	}
}

// Timeout returns the configured SSH timeout, or the default when unset or
// unparsable.
func (c *GlobalConfig) Timeout() time.Duration {
	if c.SSHTimeout == "" {
		return constants.DefaultSSHTimeout
	}
	d, err := time.ParseDuration(c.SSHTimeout)
	if err != nil || d <= 0 {
		return constants.DefaultSSHTimeout
	}
	return d
}

// RetentionDaysOrDefault returns the history retention, defaulting when unset.
func (a AuditConfig) RetentionDaysOrDefault() int {
	if a.RetentionDays <= 0 {
		return constants.DefaultRetentionDays
	}
	return a.RetentionDays
}
