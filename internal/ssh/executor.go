package ssh

import "context"

// Executor abstracts remote command execution for testability.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

var _ Executor = (*Client)(nil)
