package stdio

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is reported by writes and reads on a connection that has
	// started closing.
	ErrClosed = errors.New("stdio: connection closed")
	// ErrQueueClosed is recorded when an inbound message could not be handed
	// to the consumer because the connection was shutting down.
	ErrQueueClosed = errors.New("stdio: inbound queue rejected message")
)

// LaunchError reports that a backend process could not be started.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("stdio: launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// SendError reports a write that could not be queued.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("stdio: send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FramingError reports an inbound line that is not a JSON-RPC message. It is
// fatal for the connection that produced it.
type FramingError struct {
	Line string
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("stdio: malformed message %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
