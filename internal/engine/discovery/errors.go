package discovery

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
)

// ErrFailFast is returned by every resolution after one has already failed
// in this process.
var ErrFailFast = errors.New("previous attempts to find a Docker environment failed; will not retry")

// ErrUnknownStrategy is the cause recorded for a persisted strategy name that
// is not in the registry.
var ErrUnknownStrategy = errors.New("strategy is not registered")

// DiscoveryFailure records why one strategy did not yield a daemon. It is
// recoverable: the resolver moves on to the next candidate.
type DiscoveryFailure struct {
	Strategy    string
	Description string
	Err         error
	Hint        string
	Duration    time.Duration
}

func (f *DiscoveryFailure) Error() string {
	cause := RootCause(f.Err)
	return fmt.Sprintf("%s: failed with %v (root cause: %v)", f.Strategy, f.Err, cause)
}

func (f *DiscoveryFailure) Unwrap() error {
	return f.Err
}

func newFailure(s Strategy, env *Environment, err error, took time.Duration) *DiscoveryFailure {
	name, desc := "", ""
	if s != nil {
		name, desc = s.Name(), Describe(s, env)
	}
	return &DiscoveryFailure{
		Strategy:    name,
		Description: desc,
		Err:         err,
		Hint:        daemon.Classify(err).Hint,
		Duration:    took,
	}
}

// RootCause unwraps err to its innermost cause.
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

// NoDaemonFoundError aggregates every failed strategy in discovery order.
type NoDaemonFoundError struct {
	Failures []*DiscoveryFailure
}

func (e *NoDaemonFoundError) Error() string {
	if len(e.Failures) == 0 {
		return "could not find a valid Docker environment: no discovery strategy was applicable (0 attempts)"
	}
	return e.errors().Error()
}

func (e *NoDaemonFoundError) errors() *multierror.Error {
	merr := &multierror.Error{ErrorFormat: formatFailures}
	for _, f := range e.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *NoDaemonFoundError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.errors()
}

func formatFailures(errs []error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not find a valid Docker environment after %d attempt(s):", len(errs))
	for _, err := range errs {
		b.WriteString("\n    ")
		b.WriteString(err.Error())
		var f *DiscoveryFailure
		if errors.As(err, &f) && f.Hint != "" {
			b.WriteString("\n      hint: ")
			b.WriteString(f.Hint)
		}
	}
	b.WriteString("\nAs no valid configuration was found, execution cannot continue.")
	return b.String()
}
