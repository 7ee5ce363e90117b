package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// serverNameRegex validates server configuration names
	// Allows: letters, numbers, underscores, hyphens
	// Length: 1-64 characters
	serverNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

	// unixUserRegex validates Unix usernames
	// Standard POSIX username rules
	// Length: 1-32 characters
	unixUserRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	// envKeyRegex validates environment variable keys
	// Standard environment variable naming
	envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// sensitiveAssignRegex finds NAME= assignments whose value should be masked in logs
	sensitiveAssignRegex = regexp.MustCompile(`(?i)\b[A-Z0-9_]*(PASSWORD|PASSWD|SECRET|TOKEN|API_KEY|PRIVATE_KEY|DATABASE_URL)=`)

	// uploadPathForbidden lists characters that would break out of the
	// double-quoted upload template
	uploadPathForbidden = "'\"`$\\"
)

// ValidateServerName validates a server configuration name
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name too long (max 64 characters)")
	}
	if !serverNameRegex.MatchString(name) {
		return fmt.Errorf("server name must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidateUnixUser validates a Unix username
func ValidateUnixUser(user string) error {
	if user == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(user) > 32 {
		return fmt.Errorf("username too long (max 32 characters)")
	}
	if !unixUserRegex.MatchString(user) {
		return fmt.Errorf("username must start with a lowercase letter or underscore, followed by lowercase letters, numbers, underscores, or hyphens")
	}
	return nil
}

// ValidateEnvKey validates an environment variable key
func ValidateEnvKey(key string) error {
	if key == "" {
		return fmt.Errorf("environment variable key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("environment variable key too long (max 256 characters)")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("environment variable key must start with a letter or underscore, followed by letters, numbers, or underscores")
	}
	return nil
}

// ValidateRemotePath validates a path on the remote host.
// The path is quoted before use, so only bytes the shell cannot carry are rejected.
func ValidateRemotePath(path string) error {
	if path == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if len(path) > 4096 {
		return fmt.Errorf("remote path too long (max 4096 characters)")
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("remote path cannot contain NUL or newline characters")
	}
	return nil
}

// ValidateUploadPath validates a path used as an upload target.
// Upload targets are embedded in a double-quoted sh -c string, so quote,
// backtick, dollar and backslash characters are refused.
func ValidateUploadPath(path string) error {
	if err := ValidateRemotePath(path); err != nil {
		return err
	}
	if i := strings.IndexAny(path, uploadPathForbidden); i >= 0 {
		return fmt.Errorf("upload path cannot contain %q", path[i])
	}
	return nil
}

// SanitizeCommandForLog masks sensitive values in commands before logging.
// This prevents secrets from leaking into verbose output or log files.
func SanitizeCommandForLog(cmd string) string {
	var b strings.Builder
	rest := cmd
	for {
		loc := sensitiveAssignRegex.FindStringIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			break
		}
		valueStart := loc[1]
		valueEnd := findValueEnd(rest, valueStart)
		b.WriteString(rest[:valueStart])
		b.WriteString("****")
		rest = rest[valueEnd:]
	}
	return b.String()
}

// findValueEnd finds where a shell word starting at start ends. Quoted
// segments may be concatenated ('a'"'"'b'), so the word ends at the first
// unquoted whitespace.
func findValueEnd(s string, start int) int {
	i := start
	for i < len(s) {
		switch s[i] {
		case '\'', '"':
			end := strings.IndexByte(s[i+1:], s[i])
			if end == -1 {
				return len(s)
			}
			i += end + 2
		case ' ', '\t', '\n':
			return i
		default:
			i++
		}
	}
	return len(s)
}
