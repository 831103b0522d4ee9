package reaper

import (
	"context"
	"fmt"
	"time"
)

// Reaper accepts filter sets whose matching resources must be removed when
// the session ends.
type Reaper interface {
	// Register records fs. It returns once the set is protected as far as
	// the implementation can promise.
	Register(ctx context.Context, fs FilterSet) error
	// Close releases the reaper. Resources are pruned according to the
	// implementation's termination semantics.
	Close(ctx context.Context) error
}

// StartupTimeoutError is returned when the sidecar never acknowledged its
// first filter set. It is latched: every later registration returns it.
type StartupTimeoutError struct {
	Endpoint string
	Timeout  time.Duration
	Logs     string
	Cause    error
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("reaper at %s did not acknowledge within %s", e.Endpoint, e.Timeout)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.Cause
}

// TransportError is a failed exchange with the sidecar. The worker
// reconnects after it; it only surfaces in logs and through LastError.
type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("reaper %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
