package shell

import (
	"fmt"
	"strings"
)

// SudoPrompt is the sentinel passed to sudo --prompt. The remote prompt ends
// with it, which marks where prompt noise stops and command output starts.
const SudoPrompt = "__SUDO_PASSWORD__"

// SudoMode selects how a command is elevated.
type SudoMode int

const (
	// SudoNone runs the command as the connecting user.
	SudoNone SudoMode = iota
	// SudoNonInteractive runs the command through sudo without ever prompting.
	SudoNonInteractive
	// SudoPassword answers sudo's password prompt over the command's stdin.
	SudoPassword
)

func (m SudoMode) String() string {
	switch m {
	case SudoNone:
		return "none"
	case SudoNonInteractive:
		return "non-interactive"
	case SudoPassword:
		return "password"
	default:
		return fmt.Sprintf("SudoMode(%d)", int(m))
	}
}

// ParseSudoMode parses the configuration spelling of a SudoMode.
func ParseSudoMode(s string) (SudoMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SudoNone, nil
	case "non-interactive", "noninteractive":
		return SudoNonInteractive, nil
	case "password", "interactive":
		return SudoPassword, nil
	default:
		return SudoNone, fmt.Errorf("unknown sudo mode %q (expected none, non-interactive or password)", s)
	}
}

// Sudo is the elevation policy of a request.
type Sudo struct {
	Mode     SudoMode
	Password string
}

// NoSudo returns the policy that runs commands without elevation.
func NoSudo() Sudo {
	return Sudo{Mode: SudoNone}
}

// NonInteractiveSudo returns the policy that elevates without a password.
func NonInteractiveSudo() Sudo {
	return Sudo{Mode: SudoNonInteractive}
}

// PasswordSudo returns the policy that answers the sudo prompt with secret.
func PasswordSudo(secret string) Sudo {
	return Sudo{Mode: SudoPassword, Password: secret}
}

// Interactive reports whether the remote sudo prompt has to be answered.
func (s Sudo) Interactive() bool {
	return s.Mode == SudoPassword
}

// Wrap prefixes command with the sudo invocation for this policy.
func (s Sudo) Wrap(command string) string {
	switch s.Mode {
	case SudoNonInteractive:
		return "sudo --non-interactive " + command
	case SudoPassword:
		return "sudo --prompt=" + SudoPrompt + " " + command
	default:
		return command
	}
}

// Validate checks that a password policy carries a password.
func (s Sudo) Validate() error {
	if s.Mode == SudoPassword && s.Password == "" {
		return fmt.Errorf("sudo password mode requires a password")
	}
	return nil
}
