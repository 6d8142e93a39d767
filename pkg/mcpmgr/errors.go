package mcpmgr

import (
	"errors"
	"strings"
)

// ErrBackendUnavailable matches every BackendUnavailableError via errors.Is.
var ErrBackendUnavailable = errors.New("mcpmgr: backend unavailable")

// ErrToolExecution is returned when a connected backend fails to answer a
// tools/call. The underlying error is logged, not returned.
var ErrToolExecution = errors.New("Tool execution failed. Please try again later.")

// BackendUnavailableError is returned when a call targets a backend without a
// live connection. Reason preserves the original connection failure when one
// was recorded.
type BackendUnavailableError struct {
	Backend string
	Reason  string
}

func (e *BackendUnavailableError) Error() string {
	if e.Reason != "" {
		return "Service unavailable: " + e.Reason
	}
	return "Service connection not established"
}

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// ValidationError reports every problem found in a backend configuration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "mcpmgr: invalid backend configuration:\n  " + strings.Join(e.Errors, "\n  ")
}
