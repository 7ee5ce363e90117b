package config

import (
	"strings"
	"testing"
)

func TestValidateServerConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     *ServerConfig
		wantErrors bool
	}{
		{
			name: "valid config",
			config: &ServerConfig{
				Host: "example.com",
				User: "deploy",
				Port: 22,
			},
			wantErrors: false,
		},
		{
			name: "valid with password sudo",
			config: &ServerConfig{
				Host: "10.0.0.5",
				User: "deploy",
				Port: 2222,
				Sudo: SudoConfig{Mode: "password", PasswordEncrypted: "gAAAA"},
			},
			wantErrors: false,
		},
		{
			name: "missing host",
			config: &ServerConfig{
				User: "deploy",
				Port: 22,
			},
			wantErrors: true,
		},
		{
			name: "host with user part",
			config: &ServerConfig{
				Host: "deploy@example.com",
				User: "deploy",
				Port: 22,
			},
			wantErrors: true,
		},
		{
			name: "missing user",
			config: &ServerConfig{
				Host: "example.com",
				Port: 22,
			},
			wantErrors: true,
		},
		{
			name: "invalid user",
			config: &ServerConfig{
				Host: "example.com",
				User: "root; rm -rf /",
				Port: 22,
			},
			wantErrors: true,
		},
		{
			name: "invalid port",
			config: &ServerConfig{
				Host: "example.com",
				User: "deploy",
				Port: 0,
			},
			wantErrors: true,
		},
		{
			name: "port too high",
			config: &ServerConfig{
				Host: "example.com",
				User: "deploy",
				Port: 70000,
			},
			wantErrors: true,
		},
		{
			name: "unknown sudo mode",
			config: &ServerConfig{
				Host: "example.com",
				User: "deploy",
				Port: 22,
				Sudo: SudoConfig{Mode: "always"},
			},
			wantErrors: true,
		},
		{
			name: "stored password without password mode",
			config: &ServerConfig{
				Host: "example.com",
				User: "deploy",
				Port: 22,
				Sudo: SudoConfig{Mode: "non-interactive", PasswordEncrypted: "gAAAA"},
			},
			wantErrors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := ValidateServerConfig(tt.config)
			if tt.wantErrors && !errors.HasErrors() {
				t.Error("expected validation errors but got none")
			}
			if !tt.wantErrors && errors.HasErrors() {
				t.Errorf("unexpected validation errors: %s", errors.Error())
			}
		})
	}
}

func TestValidateGlobalConfig(t *testing.T) {
	valid := ServerConfig{Host: "example.com", User: "deploy", Port: 22}

	tests := []struct {
		name      string
		config    *GlobalConfig
		wantField string
	}{
		{
			name:   "defaults",
			config: DefaultGlobalConfig(),
		},
		{
			name: "valid servers",
			config: &GlobalConfig{
				Servers:    map[string]ServerConfig{"web-1": valid},
				SSHTimeout: "45s",
			},
		},
		{
			name:      "bad timeout",
			config:    &GlobalConfig{SSHTimeout: "soon"},
			wantField: "ssh_timeout",
		},
		{
			name:      "negative timeout",
			config:    &GlobalConfig{SSHTimeout: "-5s"},
			wantField: "ssh_timeout",
		},
		{
			name:      "bad default port",
			config:    &GlobalConfig{DefaultPort: 99999},
			wantField: "default_port",
		},
		{
			name:      "negative retention",
			config:    &GlobalConfig{Audit: AuditConfig{RetentionDays: -1}},
			wantField: "audit.retention_days",
		},
		{
			name:      "bad server name",
			config:    &GlobalConfig{Servers: map[string]ServerConfig{"web 1": valid}},
			wantField: "servers.web 1",
		},
		{
			name: "server field is prefixed",
			config: &GlobalConfig{Servers: map[string]ServerConfig{
				"db": {Host: "db.internal", User: "deploy"},
			}},
			wantField: "servers.db.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateGlobalConfig(tt.config)
			if tt.wantField == "" {
				if errs.HasErrors() {
					t.Errorf("unexpected validation errors: %s", errs.Error())
				}
				return
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %q do not mention field %q", errs.Error(), tt.wantField)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "host", Message: "server host is required"},
		{Field: "port", Message: "port must be between 1 and 65535"},
	}

	got := errs.Error()
	if !strings.Contains(got, "host: server host is required; port:") {
		t.Errorf("Error() = %q", got)
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should render as empty string")
	}
}
