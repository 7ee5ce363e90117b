package security

import (
	"strings"
)

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	// Replace single quotes with the POSIX escape sequence: end quote, escaped quote, start quote
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// ShellQuote quotes a single argument for a POSIX shell. Tokens made only of
// safe characters are returned bare; anything else is single-quoted, with
// embedded single quotes written as '"'"'.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafeToken(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ShellJoin quotes every argument with ShellQuote and joins them with spaces.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = ShellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// isSafeToken reports whether s needs no quoting at all.
func isSafeToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			continue
		}
		switch r {
		case '@', '%', '+', '=', ':', ',', '.', '/', '-', '_':
			continue
		}
		return false
	}
	return true
}
