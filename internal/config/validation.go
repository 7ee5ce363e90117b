package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/yoanbernabeu/sshconnector/internal/security"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateGlobalConfig validates the whole configuration. Server errors are
// reported with a servers.<name>. field prefix.
func ValidateGlobalConfig(config *GlobalConfig) ValidationErrors {
	var errors ValidationErrors

	if config.SSHTimeout != "" {
		if d, err := time.ParseDuration(config.SSHTimeout); err != nil || d <= 0 {
			errors = append(errors, ValidationError{
				Field:   "ssh_timeout",
				Message: "must be a positive duration such as 30s",
			})
		}
	}

	if config.DefaultPort != 0 && (config.DefaultPort < 1 || config.DefaultPort > 65535) {
		errors = append(errors, ValidationError{
			Field:   "default_port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.Audit.RetentionDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "audit.retention_days",
			Message: "retention_days must be a positive number",
		})
	}

	for _, name := range config.ListServers() {
		server := config.Servers[name]
		if err := security.ValidateServerName(name); err != nil {
			errors = append(errors, ValidationError{
				Field:   "servers." + name,
				Message: err.Error(),
			})
		}
		for _, e := range ValidateServerConfig(&server) {
			e.Field = "servers." + name + "." + e.Field
			errors = append(errors, e)
		}
	}

	return errors
}

// ValidateServerConfig validates a server configuration
func ValidateServerConfig(config *ServerConfig) ValidationErrors {
	var errors ValidationErrors

	if config.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "server host is required",
		})
	} else if strings.ContainsAny(config.Host, " \t\r\n/@") {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "server host must be a hostname or IP address",
		})
	}

	if config.User == "" {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: "server user is required",
		})
	} else if err := security.ValidateUnixUser(config.User); err != nil {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: err.Error(),
		})
	}

	if config.Port < 1 || config.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "port",
			Message: "port must be between 1 and 65535",
		})
	}

	mode, err := shell.ParseSudoMode(config.Sudo.Mode)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   "sudo.mode",
			Message: err.Error(),
		})
	} else if mode != shell.SudoPassword && config.Sudo.PasswordEncrypted != "" {
		errors = append(errors, ValidationError{
			Field:   "sudo.password_encrypted",
			Message: "a stored password requires sudo mode 'password'",
		})
	}

	return errors
}
