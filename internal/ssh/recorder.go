package ssh

import "time"

// CommandRecord describes one finished Execute call.
type CommandRecord struct {
	RequestID string
	Server    string
	Host      string
	User      string
	Command   string
	Sudo      string
	ExitCode  int
	Signal    string
	Error     string
	Duration  time.Duration
}

// Recorder persists command records. A failing Recorder is logged and
// otherwise ignored.
type Recorder interface {
	RecordCommand(rec CommandRecord) error
}
