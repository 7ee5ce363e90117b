package shell

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yoanbernabeu/sshconnector/internal/security"
)

// ErrEmptyCommand is returned when a command has neither arguments nor a literal string.
var ErrEmptyCommand = errors.New("command is empty")

// Command is either an argument vector or a pre-joined shell string.
type Command struct {
	Args []string
	Raw  string
}

// Args returns a Command built from an argument vector.
func Args(args ...string) Command {
	return Command{Args: args}
}

// Raw returns a Command that is passed to the shell as written.
func Raw(s string) Command {
	return Command{Raw: s}
}

// IsZero reports whether the command is empty.
func (c Command) IsZero() bool {
	return len(c.Args) == 0 && strings.TrimSpace(c.Raw) == ""
}

// String returns the command as one shell string. Argument vectors are quoted.
func (c Command) String() string {
	if len(c.Args) > 0 {
		return security.ShellJoin(c.Args)
	}
	return c.Raw
}

// Build produces the shell string for cmd, run in dir (if set) with env added
// to its environment. Environment keys are emitted in sorted order.
//
// Build fails on an empty command, on a dir containing NUL, CR or LF or longer
// than 4096 bytes, and on an environment key that is not a shell identifier.
func Build(cmd Command, dir string, env map[string]string) (string, error) {
	if cmd.IsZero() {
		return "", ErrEmptyCommand
	}
	command := cmd.String()

	if dir != "" {
		if err := security.ValidateRemotePath(dir); err != nil {
			return "", fmt.Errorf("invalid working directory: %w", err)
		}
		inner := fmt.Sprintf("cd %s && exec %s", security.ShellEscape(dir), command)
		command = "sh -c " + security.ShellQuote(inner)
	}

	if len(env) > 0 {
		prefix, err := envPrefix(env)
		if err != nil {
			return "", err
		}
		command = prefix + " " + command
	}

	return command, nil
}

// envPrefix renders "env K=V ..." for the given mapping.
func envPrefix(env map[string]string) (string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		if err := security.ValidateEnvKey(k); err != nil {
			return "", fmt.Errorf("invalid environment variable %q: %w", k, err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, "env")
	for _, k := range keys {
		parts = append(parts, k+"="+security.ShellQuote(env[k]))
	}
	return strings.Join(parts, " "), nil
}
