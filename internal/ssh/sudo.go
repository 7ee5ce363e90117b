package ssh

import (
	"bytes"

	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

// sudoState is the state of a sudoFilter.
type sudoState int

const (
	// sudoCollecting hides stdout while waiting for the prompt sentinel.
	sudoCollecting sudoState = iota
	// sudoPassthrough forwards stdout unchanged.
	sudoPassthrough
)

// sudoFilter sits on the stdout stream of a command run with
// sudo --prompt=<sentinel>. Everything up to and including the sentinel is
// withheld from the caller.
type sudoFilter struct {
	state    sudoState
	sentinel []byte
	pending  []byte
}

func newSudoFilter() *sudoFilter {
	return &sudoFilter{
		state:    sudoCollecting,
		sentinel: []byte(shell.SudoPrompt),
	}
}

// Feed consumes one stdout chunk and returns the part the caller may see.
// matched is true exactly once, for the chunk that completed the sentinel;
// the password must be sent at that point.
func (f *sudoFilter) Feed(chunk []byte) (visible []byte, matched bool) {
	if f.state == sudoPassthrough {
		return chunk, false
	}

	f.pending = append(f.pending, chunk...)
	i := bytes.Index(f.pending, f.sentinel)
	if i < 0 {
		// Only a sentinel prefix can straddle the next chunk boundary.
		if keep := len(f.sentinel) - 1; len(f.pending) > keep {
			f.pending = append(f.pending[:0], f.pending[len(f.pending)-keep:]...)
		}
		return nil, false
	}

	rest := f.pending[i+len(f.sentinel):]
	if len(rest) > 0 {
		visible = append([]byte(nil), rest...)
	}
	f.pending = nil
	f.state = sudoPassthrough
	return visible, true
}

// Collecting reports whether the sentinel has not been seen yet.
func (f *sudoFilter) Collecting() bool {
	return f.state == sudoCollecting
}
