package ssh

import (
	"bytes"
	"io"
	"sync"
)

// PrefixWriter writes prefix at the start of every line. Lines may span
// several Write calls.
type PrefixWriter struct {
	mu      sync.Mutex
	w       io.Writer
	prefix  []byte
	midLine bool
}

// NewPrefixWriter wraps w.
func NewPrefixWriter(w io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{w: w, prefix: []byte(prefix)}
}

func (p *PrefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rest := b
	for len(rest) > 0 {
		if !p.midLine {
			if _, err := p.w.Write(p.prefix); err != nil {
				return len(b) - len(rest), err
			}
			p.midLine = true
		}
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
			p.midLine = false
		}
		if _, err := p.w.Write(line); err != nil {
			return len(b) - len(rest), err
		}
		rest = rest[len(line):]
	}
	return len(b), nil
}
