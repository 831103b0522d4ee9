// Package shutdown provides an explicit cancellation scope whose callbacks run
// once on orderly process exit.
//
// A Scope is strictly weaker than the reaper sidecar: nothing registered here
// runs when the process is killed with SIGKILL or crashes.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// Func is a shutdown callback.
type Func func(ctx context.Context) error

type callback struct {
	name string
	fn   Func
}

// Scope collects callbacks and runs them in reverse registration order.
type Scope struct {
	mu        sync.Mutex
	callbacks []callback
	done      bool
}

// New creates an empty Scope.
func New() *Scope {
	return &Scope{}
}

// Register adds a named callback. Callbacks registered after Run has
// completed are ignored and Register reports false.
func (s *Scope) Register(name string, fn Func) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.callbacks = append(s.callbacks, callback{name: name, fn: fn})
	return true
}

// Len returns the number of pending callbacks.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}

// Run executes every registered callback exactly once, last registered first.
// Later calls are no-ops. All callback errors are aggregated.
func (s *Scope) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	var errs *multierror.Error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		log.Debug("running shutdown callback", "name", cb.name)
		if err := cb.fn(ctx); err != nil {
			log.Warn("shutdown callback failed", "name", cb.name, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", cb.name, err))
		}
	}
	return errs.ErrorOrNil()
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
