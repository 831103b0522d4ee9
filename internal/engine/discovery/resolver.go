package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// Resolution is the outcome of a successful discovery.
type Resolution struct {
	Endpoint    daemon.Endpoint
	Strategy    string
	Description string
	// Attempts lists the strategies that failed before the winner, in order.
	Attempts []*DiscoveryFailure
}

// PersistFunc records the winning strategy name for future runs.
type PersistFunc func(ctx context.Context, name string) error

// Resolver finds a daemon once per process. It is safe for concurrent use;
// concurrent callers share one resolution.
type Resolver struct {
	strategies []Strategy
	env        *Environment
	persisted  string
	persist    PersistFunc

	failed  atomic.Bool
	mu      sync.Mutex
	result  *Resolution
	lastErr error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPersisted names the strategy that won in an earlier run.
func WithPersisted(name string) Option {
	return func(r *Resolver) { r.persisted = name }
}

// WithPersist sets where persistable winners are recorded.
func WithPersist(fn PersistFunc) Option {
	return func(r *Resolver) { r.persist = fn }
}

// NewResolver creates a resolver over strategies using env.
func NewResolver(strategies []Strategy, env *Environment, opts ...Option) *Resolver {
	r := &Resolver{
		strategies: append([]Strategy(nil), strategies...),
		env:        env,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Failed reports whether the fail-fast latch is set.
func (r *Resolver) Failed() bool {
	return r.failed.Load()
}

// Resolve returns the daemon endpoint, running discovery on first use.
// After one exhaustive failure every later call fails immediately with
// ErrFailFast wrapping the original NoDaemonFoundError.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	if r.failed.Load() {
		return Resolution{}, r.failFast()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result != nil {
		return *r.result, nil
	}
	if r.failed.Load() {
		return Resolution{}, r.failFast()
	}

	res, err := r.resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// A cancelled caller did not prove the host has no daemon.
			return Resolution{}, err
		}
		r.lastErr = err
		r.failed.Store(true)
		return Resolution{}, err
	}
	r.result = &res
	return res, nil
}

func (r *Resolver) failFast() error {
	return fmt.Errorf("%w: %w", ErrFailFast, r.lastErr)
}

func (r *Resolver) resolve(ctx context.Context) (Resolution, error) {
	log := logger.FromContext(ctx)
	var failures []*DiscoveryFailure
	tried := make(map[string]bool)

	try := func(s Strategy) (daemon.Endpoint, bool) {
		tried[s.Name()] = true
		log.Debug("testing discovery strategy", "strategy", s.Name(), "description", Describe(s, r.env))
		start := time.Now()
		ep, err := r.test(ctx, s)
		if err != nil {
			f := newFailure(s, r.env, err, time.Since(start))
			log.Debug("discovery strategy failed", "strategy", s.Name(), "error", err)
			failures = append(failures, f)
			return daemon.Endpoint{}, false
		}
		return ep, true
	}
	win := func(s Strategy, ep daemon.Endpoint) Resolution {
		desc := Describe(s, r.env)
		log.Info("found Docker environment", "strategy", s.Name(), "description", desc, "host", ep.Host)
		if s.Persistable(r.env) && r.persist != nil {
			if err := r.persist(ctx, s.Name()); err != nil {
				log.Warn("could not persist discovery strategy", "strategy", s.Name(), "error", err)
			}
		}
		return Resolution{Endpoint: ep, Strategy: s.Name(), Description: desc, Attempts: failures}
	}

	for _, s := range r.strategies {
		if _, ok := s.(Directive); !ok || !s.Applicable(r.env) {
			continue
		}
		if ep, ok := try(s); ok {
			return win(s, ep), nil
		}
	}

	if r.persisted != "" {
		s, ok := Lookup(r.strategies, r.persisted)
		switch {
		case !ok:
			log.Warn("persisted discovery strategy is not available, ignoring", "strategy", r.persisted)
			failures = append(failures, &DiscoveryFailure{
				Strategy: r.persisted,
				Err:      fmt.Errorf("%w: %q", ErrUnknownStrategy, r.persisted),
			})
			tried[r.persisted] = true
		case tried[s.Name()]:
		case s.Applicable(r.env) && s.Persistable(r.env):
			if ep, ok := try(s); ok {
				return win(s, ep), nil
			}
		default:
			log.Debug("persisted discovery strategy no longer applies", "strategy", s.Name())
		}
	}

	for _, s := range r.ordered() {
		if tried[s.Name()] {
			continue
		}
		if _, ok := s.(Directive); ok {
			continue
		}
		if !s.Applicable(r.env) {
			log.Debug("discovery strategy not applicable", "strategy", s.Name())
			continue
		}
		if ep, ok := try(s); ok {
			return win(s, ep), nil
		}
	}

	err := &NoDaemonFoundError{Failures: failures}
	log.Error("could not find a valid Docker environment", "attempts", len(failures))
	return Resolution{}, err
}

// test runs s.Test, converting a panic into a failure so one broken
// strategy cannot abort the whole resolution.
func (r *Resolver) test(ctx context.Context, s Strategy) (ep daemon.Endpoint, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy panicked: %v", p)
		}
	}()
	ep, err = s.Test(ctx, r.env)
	if err == nil && ep.Host == "" {
		err = errors.New("strategy returned an empty endpoint")
	}
	return ep, err
}

// ordered returns the strategies by descending priority, ties by name.
func (r *Resolver) ordered() []Strategy {
	out := append([]Strategy(nil), r.strategies...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Close releases what strategies hold open for their endpoints, such as the
// proxied socket bridge. Endpoints returned earlier stop working.
func (r *Resolver) Close() error {
	var errs *multierror.Error
	for _, s := range r.strategies {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errs.ErrorOrNil()
}
